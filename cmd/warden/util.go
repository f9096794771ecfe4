package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

func printJSON(out io.Writer, v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	_, _ = fmt.Fprintln(out, string(b))
}

func formatUptime(sec int64) string {
	return (time.Duration(sec) * time.Second).String()
}

// mergeEnv appends extra KEY=VALUE entries after base.
func mergeEnv(base []string, extra ...[]string) []string {
	out := append([]string(nil), base...)
	for _, e := range extra {
		out = append(out, e...)
	}
	return out
}
