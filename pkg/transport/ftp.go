package transport

import (
	"context"
	"fmt"
	"net"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jlaffaye/ftp"

	"github.com/oabridge/depositd/pkg/log"
	"github.com/oabridge/depositd/pkg/packager"
)

const (
	ftpConnectInitial = 2000 * time.Millisecond
	ftpConnectFactor  = 1.5
	ftpConnectCeiling = 30 * time.Second
	ftpDialTimeout    = 30 * time.Second
)

// FTPTransport opens FTP sessions. Connection establishment retries with
// exponential backoff until the ceiling elapses; everything after login is
// single-shot.
type FTPTransport struct{}

func (t *FTPTransport) Open(ctx context.Context, hints Hints) (Session, error) {
	fh := hints.FTP
	if fh == nil {
		return nil, fmt.Errorf("ftp transport opened without ftp hints")
	}
	if fh.TransferMode != "" && fh.TransferMode != "stream" {
		return nil, fmt.Errorf("ftp transfer mode %q is not supported, only stream", fh.TransferMode)
	}
	if !fh.UsePasv {
		return nil, fmt.Errorf("active-mode ftp is not supported, set use-pasv")
	}

	addr := net.JoinHostPort(hints.Server, fmt.Sprintf("%d", hints.Port))
	logger := log.WithComponent("ftp-transport")

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = ftpConnectInitial
	policy.Multiplier = ftpConnectFactor
	policy.MaxElapsedTime = ftpConnectCeiling

	var conn *ftp.ServerConn
	err := backoff.Retry(func() error {
		var derr error
		conn, derr = ftp.Dial(addr,
			ftp.DialWithContext(ctx),
			ftp.DialWithTimeout(ftpDialTimeout),
		)
		if derr != nil {
			logger.Debug().Str("address", addr).Err(derr).Msg("FTP connect failed, backing off")
		}
		return derr
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, &NetworkError{Op: "connect " + addr, Cause: err}
	}

	// Validate the control channel before spending a login on it.
	if err := conn.NoOp(); err != nil {
		conn.Quit()
		return nil, &NetworkError{Op: "noop " + addr, Cause: err}
	}

	if hints.AuthMode == AuthUserPass {
		if err := conn.Login(hints.Username, hints.Password); err != nil {
			conn.Quit()
			return nil, &NetworkError{Op: "login " + addr, Cause: err}
		}
	}

	dataType := ftp.TransferTypeBinary
	if fh.DataType == "ascii" {
		dataType = ftp.TransferTypeASCII
	}
	if err := conn.Type(dataType); err != nil {
		conn.Quit()
		return nil, &NetworkError{Op: "set data type", Cause: err}
	}

	s := &ftpSession{conn: conn, baseDir: resolveBaseDir(fh.BaseDirectory)}
	if s.baseDir != "" {
		if err := s.ensureDir(s.baseDir); err != nil {
			conn.Quit()
			return nil, err
		}
	}
	logger.Debug().Str("address", addr).Str("directory", s.baseDir).Msg("FTP session established")
	return s, nil
}

// resolveBaseDir substitutes a %s placeholder with the current UTC date, so
// daily drop directories like pub/upload/%s resolve to pub/upload/2026-08-26.
func resolveBaseDir(dir string) string {
	if strings.Contains(dir, "%s") {
		return fmt.Sprintf(dir, time.Now().UTC().Format("2006-01-02"))
	}
	return dir
}

type ftpSession struct {
	conn    *ftp.ServerConn
	baseDir string
	tainted bool
}

func (s *ftpSession) Send(ctx context.Context, pkg *packager.PackageStream) (*Receipt, error) {
	if s.tainted {
		return nil, ErrSessionTainted
	}

	origin, err := s.conn.CurrentDir()
	if err != nil {
		s.tainted = true
		return nil, &NetworkError{Op: "read working directory", Cause: err}
	}
	restored := false
	restore := func() {
		if restored {
			return
		}
		restored = true
		if err := s.conn.ChangeDir(origin); err != nil {
			s.tainted = true
		}
	}
	defer restore()

	name := pkg.Metadata().Name
	if dir, base := path.Split(name); dir != "" {
		if err := s.ensureDir(strings.TrimSuffix(dir, "/")); err != nil {
			s.tainted = true
			return nil, err
		}
		name = base
	}

	body, err := pkg.Open(ctx)
	if err != nil {
		return nil, &NetworkError{Op: "open package stream", Cause: err}
	}
	defer body.Close()

	if err := s.conn.Stor(name, body); err != nil {
		// A failed STOR leaves the control channel in an unknown state;
		// the session cannot be reused.
		s.tainted = true
		return nil, &NetworkError{Op: "store " + name, Cause: err}
	}

	dest, err := s.conn.CurrentDir()
	if err != nil {
		dest = s.baseDir
	}
	restore()
	return &Receipt{Location: path.Join(dest, name)}, nil
}

// ensureDir changes into the given directory, creating missing components
// along the way. Creation is idempotent: a MakeDir failure is tolerated as
// long as the directory can then be entered.
func (s *ftpSession) ensureDir(dir string) error {
	if strings.HasPrefix(dir, "/") {
		if err := s.conn.ChangeDir("/"); err != nil {
			return &NetworkError{Op: "change to root", Cause: err}
		}
	}
	for _, comp := range strings.Split(dir, "/") {
		if comp == "" || comp == "." {
			continue
		}
		if err := s.conn.ChangeDir(comp); err == nil {
			continue
		}
		merr := s.conn.MakeDir(comp)
		if err := s.conn.ChangeDir(comp); err != nil {
			if merr != nil {
				return &NetworkError{Op: "create directory " + comp, Cause: merr}
			}
			return &NetworkError{Op: "enter directory " + comp, Cause: err}
		}
	}
	return nil
}

func (s *ftpSession) Close() error {
	if err := s.conn.Quit(); err != nil {
		return &NetworkError{Op: "quit", Cause: err}
	}
	return nil
}
