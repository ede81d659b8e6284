package sessionpool

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/kloaknet/completion-prober/internal/diagnostics"
	"github.com/kloaknet/completion-prober/internal/models"
)

// fakeProviderListener accepts any number of connections and answers every
// STAT it receives according to outcome, after a "200 ready" greeting.
func fakeProviderListener(t *testing.T, outcome func(messageID string) string) int {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				c.Write([]byte("200 ready\r\n"))
				r := bufio.NewReader(c)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					// line looks like "STAT <msgid>\r\n"
					msgID := extractMessageID(line)
					if _, err := c.Write([]byte(outcome(msgID))); err != nil {
						return
					}
				}
			}(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return port
}

func extractMessageID(statLine string) string {
	start := -1
	end := -1
	for i, c := range statLine {
		if c == '<' {
			start = i
		}
		if c == '>' {
			end = i
			break
		}
	}
	if start < 0 || end < 0 {
		return ""
	}
	return statLine[start+1 : end]
}

func sampleOf(n int) *models.Sample {
	s := &models.Sample{TotalNonPar: n}
	for i := 0; i < n; i++ {
		s.Articles = append(s.Articles, models.Article{
			MessageID:       strconv.Itoa(i),
			Groups:          []string{"alt.binaries.test"},
			FoundOnProvider: models.Unconfirmed,
		})
	}
	return s
}

func TestRunAllFound(t *testing.T) {
	port := fakeProviderListener(t, func(string) string { return "223 0 found\r\n" })
	sample := sampleOf(10)

	result := Run(context.Background(), models.Provider{ID: "p1", Host: "127.0.0.1", Port: port, MaxConns: 3}, sample, 1, 10, 50, 0, time.Second, time.Time{}, diagnostics.Discard())

	if result.Missing != 0 {
		t.Fatalf("expected 0 missing, got %+v", result)
	}
	for i := range sample.Articles {
		if sample.Unconfirmed(i) {
			t.Fatalf("article %d should have been confirmed", i)
		}
	}
}

func TestRunAllMissing(t *testing.T) {
	port := fakeProviderListener(t, func(string) string { return "430 no such article\r\n" })
	sample := sampleOf(10)

	result := Run(context.Background(), models.Provider{ID: "p1", Host: "127.0.0.1", Port: port, MaxConns: 3}, sample, 1, 10, 50, 0, time.Second, time.Time{}, diagnostics.Discard())

	if result.Missing == 0 {
		t.Fatalf("expected some missing articles, got %+v", result)
	}
	if result.MissRatio() < 50 {
		t.Fatalf("expected miss ratio to trip the 50%% threshold, got %v", result.MissRatio())
	}
}

func TestRunNoopOnFullyConfirmedSample(t *testing.T) {
	sample := sampleOf(3)
	for i := range sample.Articles {
		sample.Confirm(i, 1)
	}
	result := Run(context.Background(), models.Provider{ID: "p1", Host: "127.0.0.1", Port: 1, MaxConns: 1}, sample, 2, 3, 50, 0, time.Second, time.Time{}, diagnostics.Discard())
	if result.Sent != 0 || result.Missing != 0 {
		t.Fatalf("expected a no-op result when every article is already confirmed, got %+v", result)
	}
}

// stallingProviderListener accepts a connection, sends the greeting, and
// then never replies to anything the client sends — simulating a provider
// that stops answering mid-session.
func stallingProviderListener(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				defer c.Close()
				c.Write([]byte("200 ready\r\n"))
				buf := make([]byte, 4096)
				for {
					if _, err := c.Read(buf); err != nil {
						return
					}
					// never reply: every STAT the client sends stalls forever.
				}
			}(conn)
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return port
}

func TestRunSlowSessionTriggersLoopFailed(t *testing.T) {
	port := stallingProviderListener(t)
	sample := sampleOf(30)

	// threshold is set far above 100% so the ratio-based early stop never
	// fires first; only the synthetic-999 escalation should cancel the run.
	result := Run(context.Background(), models.Provider{ID: "p1", Host: "127.0.0.1", Port: port, MaxConns: 1}, sample, 1, 30, 1000, 0, time.Second, time.Time{}, diagnostics.Discard())

	if !result.LoopFailed {
		t.Fatalf("expected LoopFailed after the slow-session escalation, got %+v", result)
	}
}

func TestRunDialFailureReportsFullMiss(t *testing.T) {
	sample := sampleOf(4)
	// nothing listening on this port
	result := Run(context.Background(), models.Provider{ID: "p1", Host: "127.0.0.1", Port: 1, MaxConns: 2}, sample, 1, 4, 50, 0, 50*time.Millisecond, time.Time{}, diagnostics.Discard())
	if result.Missing != 4 || result.Sent != 4 {
		t.Fatalf("expected full miss when dialing fails, got %+v", result)
	}
}
