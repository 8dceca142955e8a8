package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/guseggert/stdipc/ipc"
)

const envSchema = `{
	"type": "object",
	"properties": {
		"keys": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["keys"]
}`

const sleepSchema = `{
	"type": "object",
	"properties": {
		"ms": {"type": "integer", "minimum": 0, "maximum": 600000}
	},
	"required": ["ms"]
}`

// registerBuiltins registers the operations every ipcworker serves.
// env only reveals the variables in envAllow; with an empty allowlist it reveals none.
func registerBuiltins(reg *ipc.Registry, envAllow []string) error {
	reg.RegisterFunc("ping", func(ctx context.Context, in ipc.Object) (ipc.Object, error) {
		return ipc.Object{"pong": true}, nil
	})

	reg.RegisterFunc("echo", func(ctx context.Context, in ipc.Object) (ipc.Object, error) {
		return in, nil
	})

	reg.RegisterFunc("__list", func(ctx context.Context, in ipc.Object) (ipc.Object, error) {
		return ipc.Object{"operations": reg.Names()}, nil
	})

	err := reg.RegisterWithSchema("env", envSchema, func(ctx context.Context, in ipc.Object, out ipc.Object) error {
		env := ipc.Object{}
		for _, k := range in["keys"].([]any) {
			key := k.(string)
			if !slices.Contains(envAllow, key) {
				continue
			}
			if v, ok := os.LookupEnv(key); ok {
				env[key] = v
			}
		}
		out["env"] = env
		return nil
	})
	if err != nil {
		return err
	}

	return reg.RegisterWithSchema("sleep", sleepSchema, func(ctx context.Context, in ipc.Object, out ipc.Object) error {
		ms, err := intField(in, "ms")
		if err != nil {
			return err
		}
		timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		out["slept"] = ms
		return nil
	})
}

func intField(o ipc.Object, key string) (int64, error) {
	switch v := o[key].(type) {
	case json.Number:
		return v.Int64()
	case float64:
		return int64(v), nil
	case int:
		return int64(v), nil
	}
	return 0, fmt.Errorf("%s is not a number", key)
}
