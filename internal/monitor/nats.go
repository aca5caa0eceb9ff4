package monitor

import (
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/danmuck/tipctl/internal/logging"
)

// Publisher is the slice of *nats.Conn the NATS sink needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes msgpack-encoded Records. Samples go to
// <subject>.<session>; the session meta goes to <subject>.meta.
type NATSSink struct {
	pub     Publisher
	subject string
	session string
	conn    *nats.Conn
}

func NewNATSSink(pub Publisher, subject string) *NATSSink {
	return &NATSSink{pub: pub, subject: subject}
}

// DialNATSSink connects to url and returns a sink that owns the connection.
func DialNATSSink(url, subject, clientName string) (*NATSSink, error) {
	conn, err := nats.Connect(url,
		nats.Name(clientName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.Timeout(5*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warnf("monitor.NATSSink disconnected url=%s err=%v", url, err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logging.Infof("monitor.NATSSink reconnected url=%s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("monitor: nats connect %s: %w", url, err)
	}
	s := NewNATSSink(conn, subject)
	s.conn = conn
	return s, nil
}

func (s *NATSSink) Open(meta Meta) error {
	s.session = meta.SessionID
	return s.publish(s.subject+".meta", Record{Type: RecordMeta, Session: meta.SessionID, Meta: &meta})
}

func (s *NATSSink) Write(sample Sample) error {
	return s.publish(s.subject+"."+s.session, Record{Type: RecordSample, Session: s.session, Sample: newSampleRecord(sample)})
}

func (s *NATSSink) publish(subject string, rec Record) error {
	data, err := msgpack.Marshal(rec)
	if err != nil {
		return fmt.Errorf("monitor: encode %s record: %w", rec.Type, err)
	}
	if err := s.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("monitor: publish %s: %w", subject, err)
	}
	return nil
}

func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}
