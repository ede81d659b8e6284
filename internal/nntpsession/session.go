// Package nntpsession drives a single NNTP connection through the
// authentication and article-status state machine described in spec.md
// §4.3. Grounded on the teacher's BackendConn dial/auth pattern
// (internal/nntp/nntp-client.go in the retrieved go-pugleaf tree),
// generalized from "connect once, fetch one article" into a STAT-only
// probe loop that is re-driven for every sampled article and that
// tolerates a misbehaving server via retry counters instead of OS-level
// non-blocking sockets (spec.md §9: either cooperative model is
// acceptable provided the ordering guarantees hold).
package nntpsession

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/kloaknet/completion-prober/internal/config"
	"github.com/kloaknet/completion-prober/internal/models"
)

// State is the session's position in the NNTP state machine.
type State int

const (
	Dialing State = iota
	Greeted
	AuthUser
	AuthPass
	Ready
	GroupSet
	AwaitingStatus
	Closing
	Dead
)

// ArticleOutcome is the result of probing one article's existence.
type ArticleOutcome int

const (
	ArticleFound ArticleOutcome = iota
	ArticleMissing
	// ArticleSynthetic is a missing result synthesised by the slow-session
	// policy (a pseudo "999" reply) rather than a real server reply. The
	// pool counts these separately to decide when to mark a provider
	// pool loop_failed.
	ArticleSynthetic
)

// Session owns one byte-stream connection to a single provider.
type Session struct {
	conn   net.Conn
	reader *bufio.Reader

	provider models.Provider

	state          State
	currentGroup   string
	lastPendingID  string
	slowRetryCount int

	readAttemptTimeout time.Duration
	loopInterval       time.Duration
	poolSize           int
}

// Dial opens a TCP or TLS connection to the provider, respecting
// NntpTimeout. It does not read the greeting: the first Stat() call reads
// it and reacts to the 200/201 code like every other reply, matching the
// state table in spec.md §4.3.
func Dial(provider models.Provider, timeout time.Duration) (*Session, error) {
	network := preferredNetwork(provider.Host, timeout)
	addr := net.JoinHostPort(provider.Host, strconv.Itoa(provider.Port))

	var conn net.Conn
	var err error
	if provider.TLS {
		dialer := &net.Dialer{Timeout: timeout}
		conn, err = tls.DialWithDialer(dialer, network, addr, &tls.Config{ServerName: provider.Host, MinVersion: tls.VersionTLS12})
	} else {
		conn, err = net.DialTimeout(network, addr, timeout)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	return &Session{
		conn:               conn,
		reader:             bufio.NewReader(conn),
		provider:           provider,
		state:              Dialing,
		readAttemptTimeout: 50 * time.Millisecond,
		loopInterval:       config.DefaultSocketLoopInterval,
		poolSize:           1,
	}, nil
}

// SetPoolSize tunes the slow-retry backoff to SocketLoopInterval/pool_size.
func (s *Session) SetPoolSize(n int) {
	if n > 0 {
		s.poolSize = n
	}
}

// Close sends QUIT (best-effort) and releases the socket. Safe to call
// more than once.
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	_, _ = s.conn.Write([]byte("QUIT\r\n"))
	err := s.conn.Close()
	s.conn = nil
	s.state = Dead
	return err
}

// State reports the session's current state-machine position.
func (s *Session) State() State { return s.state }

// Stat drives the full STAT exchange for one article: greeting, auth and
// GROUP negotiation are handled inline exactly as the original reply
// table prescribes, since they only ever occur as a reaction to a reply
// received while waiting for a STAT result.
func (s *Session) Stat(group, messageID string) (ArticleOutcome, error) {
	if s.state == Dead {
		return ArticleMissing, fmt.Errorf("session dead")
	}
	s.lastPendingID = messageID

	// Kick off the exchange: if we haven't sent anything yet the server's
	// unsolicited greeting is what we read first; if we're already past
	// greeting/auth/group negotiation from a prior article, go straight
	// to STAT.
	if s.state == Ready || s.state == AwaitingStatus || s.state == GroupSet {
		if err := s.sendStat(messageID); err != nil {
			s.state = Dead
			return ArticleMissing, err
		}
	}

	for {
		line, synthetic, err := s.readLine()
		if err != nil {
			s.state = Dead
			return ArticleMissing, err
		}
		if synthetic {
			return ArticleSynthetic, nil
		}

		code, ok := parseCode(line)
		if !ok {
			// unparseable reply: count as missing, advance.
			return ArticleMissing, nil
		}

		switch {
		case code == 200 || code == 201:
			s.state = Greeted
			if err := s.sendStat(messageID); err != nil {
				s.state = Dead
				return ArticleMissing, err
			}
		case code == 480:
			s.state = AuthUser
			if err := s.send("AUTHINFO USER " + s.provider.User); err != nil {
				s.state = Dead
				return ArticleMissing, err
			}
		case code == 381:
			s.state = AuthPass
			if err := s.send("AUTHINFO PASS " + s.provider.Pass); err != nil {
				s.state = Dead
				return ArticleMissing, err
			}
		case code == 281:
			s.state = Ready
			if err := s.sendStat(s.lastPendingID); err != nil {
				s.state = Dead
				return ArticleMissing, err
			}
		case code == 412:
			s.currentGroup = group
			if err := s.send("GROUP " + group); err != nil {
				s.state = Dead
				return ArticleMissing, err
			}
			s.state = GroupSet
		case code == 211:
			s.state = GroupSet
			if err := s.sendStat(s.lastPendingID); err != nil {
				s.state = Dead
				return ArticleMissing, err
			}
		case code == 223 || code == 221:
			s.state = AwaitingStatus
			return ArticleFound, nil
		case code == 411 || code == 420 || code == 423 || code == 430:
			s.state = AwaitingStatus
			return ArticleMissing, nil
		case code/10 == 48 || code/10 == 50:
			s.state = Dead
			return ArticleMissing, fmt.Errorf("fatal server reply %d: %s", code, strings.TrimSpace(line))
		case code == 205:
			s.state = Dead
			return ArticleMissing, fmt.Errorf("session closed by server")
		default:
			// code recognised but not covered: advance without action.
			s.state = AwaitingStatus
		}
	}
}

func (s *Session) sendStat(messageID string) error {
	s.lastPendingID = messageID
	s.state = AwaitingStatus
	return s.send(fmt.Sprintf("STAT <%s>", messageID))
}

func (s *Session) send(cmd string) error {
	_, err := s.conn.Write([]byte(cmd + "\r\n"))
	return err
}

// readLine implements the slow-session policy of spec.md §4.3: every
// non-blocking read that yields no bytes increments a retry counter and
// backs off; the 5th consecutive empty read sleeps 2s; the 6th and
// beyond synthesise a pseudo "999" reply.
func (s *Session) readLine() (line string, synthetic bool, fatalErr error) {
	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.readAttemptTimeout))
		line, err := s.reader.ReadString('\n')
		if err == nil {
			s.slowRetryCount = 0
			return line, false, nil
		}
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			s.slowRetryCount++
			switch {
			case s.slowRetryCount < config.SlowSessionStallAfter:
				time.Sleep(s.loopInterval / time.Duration(s.poolSize))
				continue
			case s.slowRetryCount == config.SlowSessionStallAfter:
				time.Sleep(2 * time.Second)
				continue
			default:
				return "999 synthesised by session\r\n", true, nil
			}
		}
		// real connection error (EOF, reset, etc): fatal for this session.
		return "", false, err
	}
}

// preferredNetwork resolves host and picks "tcp4" unless only AAAA
// records are available, matching the original script's IPv4-preferred,
// IPv6-only-when-exclusive dial policy.
func preferredNetwork(host string, timeout time.Duration) string {
	resolver := &net.Resolver{}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil || len(addrs) == 0 {
		return "tcp4"
	}
	for _, a := range addrs {
		if a.IP.To4() != nil {
			return "tcp4"
		}
	}
	return "tcp6"
}

func parseCode(line string) (int, bool) {
	line = strings.TrimSpace(line)
	if len(line) < 3 {
		return 0, false
	}
	code, err := strconv.Atoi(line[:3])
	if err != nil {
		return 0, false
	}
	return code, true
}
