package collection

import "errors"

var (
	// ErrUnauthorized 表示调用方没有执行该操作的权限
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound 表示条目或索引键不存在
	ErrNotFound = errors.New("not found")

	// ErrIndexNotFound 表示未知的内置索引
	ErrIndexNotFound = errors.New("index not found")

	// ErrTypeMismatch 表示值的类型与索引槽位声明的类型不一致
	ErrTypeMismatch = errors.New("type mismatch")

	// ErrDuplicateKey 表示索引中已存在完全相同的键
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidLimit 表示分页大小超出允许范围
	ErrInvalidLimit = errors.New("invalid limit")

	// ErrChildInstantiationFailed 表示子合约实例化失败
	ErrChildInstantiationFailed = errors.New("child instantiation failed")

	// ErrAlreadyEnabled 表示 ACL 已经开启
	ErrAlreadyEnabled = errors.New("acl already enabled")

	// ErrInvalidIndex 表示索引描述无法解析、槽位越界或试图给内置索引赋值
	ErrInvalidIndex = errors.New("invalid index")

	// ErrInvalidField 表示投影中出现未知字段
	ErrInvalidField = errors.New("invalid field")

	// ErrCodeIDNotAllowed 表示 code id 不在允许列表中
	ErrCodeIDNotAllowed = errors.New("code id not allowed")

	// ErrInvalidCursor 表示游标无法解析
	ErrInvalidCursor = errors.New("invalid cursor")

	// ErrQueryState 表示读取子合约状态失败
	ErrQueryState = errors.New("query state failed")
)
