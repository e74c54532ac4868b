package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"sync/atomic"
)

// Message is one decoded child -> parent message. Exactly one of Ready,
// Final or Err is set.
type Message struct {
	Ready bool
	Final *Final
	Err   error
}

// Reader decodes the child -> parent side of a channel.
//
// Usage:
//  1. pr, pw, _ := os.Pipe()
//  2. reader := NewReader(testName, pr)
//  3. cmd.ExtraFiles = []*os.File{pw, ...}
//  4. go reader.Run()
//  5. cmd.Start()
//  6. pw.Close() // parent's copy of the write end
//
// Run closes the Messages channel on EOF, so a consumer sees the channel
// closed once the child has exited and its output has been drained.
type Reader struct {
	testName string
	r        io.Reader
	msgs     chan Message

	linesRead atomic.Int64
}

// NewReader creates a reader for the named test's channel.
func NewReader(testName string, r io.Reader) *Reader {
	return &Reader{
		testName: testName,
		r:        r,
		// Sentinel, final and one error never block the reader.
		msgs: make(chan Message, 4),
	}
}

// Messages returns the decoded message stream.
func (p *Reader) Messages() <-chan Message { return p.msgs }

// Run reads until EOF. After a protocol violation it keeps draining the
// pipe without decoding so the child never blocks on a full pipe.
func (p *Reader) Run() {
	defer close(p.msgs)

	scanner := bufio.NewScanner(p.r)
	const maxLineSize = 64 * 1024
	scanner.Buffer(make([]byte, maxLineSize), 1024*1024)

	broken := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || broken {
			continue
		}
		n := p.linesRead.Add(1)

		msg := p.decode(n, line)
		if msg.Err != nil {
			broken = true
		}
		p.msgs <- msg
	}
	if err := scanner.Err(); err != nil && !broken {
		p.msgs <- Message{Err: &ProtocolError{TestName: p.testName, Reason: "read failed", Err: err}}
	}
}

func (p *Reader) decode(n int64, line []byte) Message {
	if n == 1 {
		var sentinel int
		if err := json.Unmarshal(line, &sentinel); err != nil {
			return Message{Err: &ProtocolError{TestName: p.testName, Reason: "first message is not the readiness sentinel", Err: err}}
		}
		if sentinel != 0 {
			return Message{Err: &ProtocolError{TestName: p.testName, Reason: "unexpected readiness value " + string(line)}}
		}
		return Message{Ready: true}
	}
	if n > 2 {
		return Message{Err: &ProtocolError{TestName: p.testName, Reason: "unexpected message after final"}}
	}

	var f Final
	if err := json.Unmarshal(line, &f); err != nil {
		return Message{Err: &ProtocolError{TestName: p.testName, Reason: "undecodable final message", Err: err}}
	}
	if !f.Status.IsTerminal() {
		return Message{Err: &ProtocolError{TestName: p.testName, Reason: "final message carries non-terminal status " + f.Status.String()}}
	}
	return Message{Final: &f}
}

// Lines returns the number of non-empty lines decoded.
func (p *Reader) Lines() int64 { return p.linesRead.Load() }
