package cachefn

import (
	"context"
	"time"
)

// nullConnection stores nothing, so every wrapped call executes.
type nullConnection struct{}

func newNullConnection() Connection {
	return nullConnection{}
}

func (nullConnection) Driver() Driver { return DriverNull }

func (nullConnection) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

func (nullConnection) SetEx(context.Context, string, time.Duration, []byte) error { return nil }

func (nullConnection) Delete(context.Context, string) error { return nil }

func (nullConnection) Close() error { return nil }
