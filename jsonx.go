package main

import (
	"reflect"

	"github.com/bytedance/sonic"
)

var fastJSON = sonic.ConfigDefault

func init() {
	// Pretouching the response types avoids first-hit codegen latency on
	// the status endpoint. Errors are best-effort.
	_ = sonic.Pretouch(reflect.TypeOf((*statusResponse)(nil)).Elem())
	_ = sonic.Pretouch(reflect.TypeOf((*versionResponse)(nil)).Elem())
}

// fastJSONMarshal encodes v with the Sonic encoder.
func fastJSONMarshal(v any) ([]byte, error) {
	return fastJSON.Marshal(v)
}

func fastJSONUnmarshal(data []byte, v any) error {
	return fastJSON.Unmarshal(data, v)
}
