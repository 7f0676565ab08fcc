package zerologr

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
	"time"

	perrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func jsonEqual(assert *assert.Assertions, j1, j2 string) {
	v1 := map[string]interface{}{}
	v2 := map[string]interface{}{}

	if err := json.NewDecoder(strings.NewReader(j1)).Decode(&v1); err != nil {
		panic(err)
	}

	if err := json.NewDecoder(strings.NewReader(j2)).Decode(&v2); err != nil {
		panic(err)
	}

	assert.Equal(v1, v2)
}

func decode(s string) map[string]interface{} {
	ret := map[string]interface{}{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &ret); err != nil {
		panic(err)
	}
	return ret
}

func TestZerologr(t *testing.T) {
	assert := assert.New(t)

	{
		buf := &strings.Builder{}
		l := New(zerolog.New(buf))
		l.Info("msg", "k", "v")
		jsonEqual(assert, `{"level":"info","k":"v","message":"msg"}`, strings.TrimSpace(buf.String()))
	}

	{
		buf := &strings.Builder{}
		l := New(zerolog.New(buf))
		l.Error(fmt.Errorf("err"), "msg", "k", "v")
		jsonEqual(assert, `{"level":"error","error":"err","k":"v","message":"msg"}`, strings.TrimSpace(buf.String()))
	}

	{
		buf := &strings.Builder{}
		l := New(zerolog.New(buf))
		l2 := l.WithValues("k", "v")
		l2.Error(fmt.Errorf("err"), "msg")
		jsonEqual(assert, `{"level":"error","error":"err","k":"v","message":"msg"}`, strings.TrimSpace(buf.String()))
	}

	{
		buf := &strings.Builder{}
		l := New(zerolog.New(buf))
		l.Info("msg", "dangling")
		jsonEqual(assert, `{"level":"info","dangling":"(MISSING)","message":"msg"}`, strings.TrimSpace(buf.String()))
	}

	{
		buf := &strings.Builder{}
		l := New(zerolog.New(buf))
		l.Info("msg", "interval", 1500*time.Millisecond, 3, "x")
		jsonEqual(assert, `{"level":"info","interval":"1.5s","3":"x","message":"msg"}`, strings.TrimSpace(buf.String()))
	}
}

func TestWithName(t *testing.T) {
	assert := assert.New(t)

	buf := &strings.Builder{}
	l := NewJSON(buf).WithName("Gardener").WithValues("zone", "north").WithName("valve")
	l.Info("opened")

	rec := decode(buf.String())
	assert.Equal("info", rec["level"])
	assert.Equal("opened", rec["message"])
	assert.Equal("Gardener.valve", rec["name"])
	assert.Equal("north", rec["zone"])
	assert.Contains(rec, "time")
}

func TestErrorStack(t *testing.T) {
	assert := assert.New(t)

	{
		buf := &strings.Builder{}
		l := New(zerolog.New(buf))
		l.Error(perrors.New("boom"), "failed")

		rec := decode(buf.String())
		assert.Equal("boom", rec["error"])
		assert.Contains(rec[StackFieldName], "TestErrorStack")
	}

	{
		buf := &strings.Builder{}
		l := New(zerolog.New(buf))
		l.Error(fmt.Errorf("plain"), "failed")

		rec := decode(buf.String())
		assert.Equal("plain", rec["error"])
		assert.NotContains(rec, StackFieldName)
	}
}

func TestDisabledLevel(t *testing.T) {
	assert := assert.New(t)

	buf := &strings.Builder{}
	l := New(zerolog.New(buf).Level(zerolog.ErrorLevel))
	l.Info("hidden", "k", "v")
	assert.Equal("", buf.String())
	l.Error(nil, "shown")
	jsonEqual(assert, `{"level":"error","message":"shown"}`, strings.TrimSpace(buf.String()))
}
