// Package main 是 tiderepo 服务的入口
package main

import (
	"fmt"
	"io"
	"os"
)

// version 在构建时通过 -ldflags 注入
var version = "dev"

func main() {
	os.Exit(run(os.Args, os.Stdout, os.Stderr))
}

// run 执行命令并返回退出码
func run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		printUsage(stderr)
		return 1
	}

	switch args[1] {
	case "serve":
		return serveCmd(args[2:], stderr)
	case "check":
		return checkCmd(args[2:], stdout, stderr)
	case "version":
		fmt.Fprintf(stdout, "tiderepo %s\n", version)
		return 0
	case "help", "-h", "--help":
		printUsage(stdout)
		return 0
	default:
		fmt.Fprintf(stderr, "unknown command: %s\n", args[1])
		printUsage(stderr)
		return 1
	}
}

func printUsage(w io.Writer) {
	fmt.Fprint(w, `usage: tiderepo <command> [flags]

commands:
  serve    start the HTTP server
  check    validate a configuration file
  version  print the version
`)
}
