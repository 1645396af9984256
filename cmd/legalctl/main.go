// legalctl 知识库运维与问答调试命令行
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(openRuntime).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
