package host

import (
	"bytes"

	"github.com/forever-free1/TideRepo/collection"
	"github.com/forever-free1/TideRepo/storage"
)

// writeStage 是 Instantiate 独立使用时的写缓冲
type writeStage struct {
	engine  storage.OrderedEngine
	pending map[string][]byte
	deleted map[string]bool
	order   []string
}

var _ collection.Stage = (*writeStage)(nil)

func newWriteStage(engine storage.OrderedEngine) *writeStage {
	return &writeStage{
		engine:  engine,
		pending: make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

func (s *writeStage) Get(key []byte) ([]byte, error) {
	k := string(key)
	if s.deleted[k] {
		return nil, storage.ErrKeyNotFound
	}
	if v, ok := s.pending[k]; ok {
		return v, nil
	}
	return s.engine.Get(key)
}

func (s *writeStage) Put(key, value []byte) {
	k := string(key)
	s.touch(k)
	delete(s.deleted, k)
	s.pending[k] = bytes.Clone(value)
}

func (s *writeStage) Delete(key []byte) {
	k := string(key)
	s.touch(k)
	delete(s.pending, k)
	s.deleted[k] = true
}

func (s *writeStage) touch(k string) {
	if _, ok := s.pending[k]; ok {
		return
	}
	if s.deleted[k] {
		return
	}
	s.order = append(s.order, k)
}

func (s *writeStage) commit() error {
	if len(s.order) == 0 {
		return nil
	}
	batch := s.engine.NewBatch()
	for _, k := range s.order {
		if s.deleted[k] {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), s.pending[k])
	}
	return batch.Commit()
}
