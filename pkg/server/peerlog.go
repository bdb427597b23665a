package server

import (
	"context"
	"sync"
	"time"

	mcperrors "github.com/ajitpratap0/mcp-session-go/pkg/errors"
	"github.com/ajitpratap0/mcp-session-go/pkg/logging"
)

const peerLogTimeout = 5 * time.Second

// Logger returns a logging.Logger whose entries are sent to the client as
// notifications/message under the given logger name. Entries below the
// client's requested level are dropped by Log.
func (p *Peer) Logger(name string) logging.Logger {
	return &peerLogger{
		peer:   p,
		name:   name,
		fields: map[string]interface{}{},
		level:  &levelFloor{level: logging.DebugLevel},
	}
}

type levelFloor struct {
	mu    sync.RWMutex
	level logging.Level
}

type peerLogger struct {
	peer   *Peer
	name   string
	fields map[string]interface{}
	level  *levelFloor
}

var _ logging.Logger = (*peerLogger)(nil)

func (l *peerLogger) Debug(msg string, fields ...logging.Field) {
	l.log(logging.DebugLevel, msg, fields)
}

func (l *peerLogger) Info(msg string, fields ...logging.Field) {
	l.log(logging.InfoLevel, msg, fields)
}

func (l *peerLogger) Warn(msg string, fields ...logging.Field) {
	l.log(logging.WarnLevel, msg, fields)
}

func (l *peerLogger) Error(msg string, fields ...logging.Field) {
	l.log(logging.ErrorLevel, msg, fields)
}

func (l *peerLogger) log(level logging.Level, msg string, fields []logging.Field) {
	if level < l.GetLevel() {
		return
	}
	data := make(map[string]interface{}, len(l.fields)+len(fields)+1)
	for k, v := range l.fields {
		data[k] = v
	}
	for _, f := range fields {
		data[f.Key] = wireValue(f.Value)
	}
	data["message"] = msg

	ctx, cancel := context.WithTimeout(context.Background(), peerLogTimeout)
	defer cancel()
	if err := l.peer.Log(ctx, level.ProtocolLevel(), l.name, data); err != nil {
		l.peer.logger.Debug("log notification not sent", logging.String("logger", l.name), logging.ErrorField(err))
	}
}

// errors do not marshal to anything useful
func wireValue(v interface{}) interface{} {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return v
}

func (l *peerLogger) WithFields(fields ...logging.Field) logging.Logger {
	child := &peerLogger{
		peer:   l.peer,
		name:   l.name,
		fields: make(map[string]interface{}, len(l.fields)+len(fields)),
		level:  l.level,
	}
	for k, v := range l.fields {
		child.fields[k] = v
	}
	for _, f := range fields {
		child.fields[f.Key] = wireValue(f.Value)
	}
	return child
}

// WithContext adds the request id found in ctx; the session is implied
func (l *peerLogger) WithContext(ctx context.Context) logging.Logger {
	if id := logging.RequestIDFromContext(ctx); id != "" {
		return l.WithFields(logging.String("request_id", id))
	}
	return l
}

func (l *peerLogger) WithError(err error) logging.Logger {
	if err == nil {
		return l
	}
	fields := []logging.Field{logging.ErrorField(err)}
	if mcpErr, ok := mcperrors.AsMCPError(err); ok {
		fields = append(fields,
			logging.Int("error_code", mcpErr.Code()),
			logging.String("error_category", string(mcpErr.Category())))
	}
	return l.WithFields(fields...)
}

func (l *peerLogger) SetLevel(level logging.Level) {
	l.level.mu.Lock()
	l.level.level = level
	l.level.mu.Unlock()
}

func (l *peerLogger) GetLevel() logging.Level {
	l.level.mu.RLock()
	defer l.level.mu.RUnlock()
	return l.level.level
}
