package constant

import (
	"fmt"
	"time"
)

var (
	Version     string = "dev"
	compileTime string = "2026-08-01T10:22:47Z"
	CompileTime time.Time
)

func init() {
	t, err := time.Parse(time.RFC3339, compileTime)
	if nil != err {
		panic(fmt.Errorf("could not parse CompileTime constant %q. Make sure it is set at build time", compileTime))
	}
	CompileTime = t
}
