package driver

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Runner executes one Netvisor CLI command and returns its standard output.
// args never include the binary or credentials.
type Runner interface {
	Run(ctx context.Context, args []string) (string, error)
}

// CLIError is a CLI invocation that printed nothing on stdout and something
// on stderr, or that could not be started at all.
type CLIError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CLIError) Error() string {
	cmd := strings.Join(e.Args, " ")
	switch {
	case e.Stderr != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s (%v)", cmd, e.Stderr, e.Err)
	case e.Stderr != "":
		return fmt.Sprintf("%s: %s", cmd, e.Stderr)
	default:
		return fmt.Sprintf("%s: %v", cmd, e.Err)
	}
}

func (e *CLIError) Unwrap() error { return e.Err }

// cliArgs prepends the fixed CLI flags to args.
func cliArgs(user, password string, args []string) []string {
	out := []string{"--quiet"}
	if user != "" {
		out = append(out, "--user", user+":"+password)
	}
	return append(out, args...)
}

// result applies the CLI's output convention: anything on stdout is the
// answer, otherwise stderr means failure.
func result(args []string, stdout, stderr string, runErr error) (string, error) {
	stdout = strings.TrimSpace(stdout)
	stderr = strings.TrimSpace(stderr)
	if stdout != "" {
		return stdout, nil
	}
	if stderr != "" || runErr != nil {
		return "", &CLIError{Args: args, Stderr: stderr, Err: runErr}
	}
	return "", nil
}

// ─── Local ───────────────────────────────────────────────────────────────────

// LocalRunner runs the CLI binary on this host, which must itself be a
// fabric member.
type LocalRunner struct {
	Path     string
	Username string
	Password string
}

func (r *LocalRunner) Run(ctx context.Context, args []string) (string, error) {
	cmd := exec.CommandContext(ctx, r.Path, cliArgs(r.Username, r.Password, args)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		// Binary missing or not executable.
		return "", &CLIError{Args: args, Err: err}
	}
	return result(args, stdout.String(), stderr.String(), err)
}

// ─── SSH ─────────────────────────────────────────────────────────────────────

// SSHOpts configures an SSHRunner.
type SSHOpts struct {
	Host       string
	Port       int
	Username   string
	Password   string
	CLIPath    string
	Timeout    time.Duration
	KnownHosts string
}

// SSHRunner runs the CLI on a seed switch over SSH. The connection is
// opened lazily and reused across commands.
type SSHRunner struct {
	opts SSHOpts
	log  *zap.SugaredLogger

	mu     sync.Mutex
	client *ssh.Client
}

// NewSSHRunner returns a runner for the seed switch in opts.
func NewSSHRunner(opts SSHOpts, log *zap.SugaredLogger) *SSHRunner {
	return &SSHRunner{opts: opts, log: log.Named("ssh")}
}

func (r *SSHRunner) addr() string {
	return net.JoinHostPort(r.opts.Host, strconv.Itoa(r.opts.Port))
}

func (r *SSHRunner) clientConfig() (*ssh.ClientConfig, error) {
	hostKey := ssh.InsecureIgnoreHostKey() //nolint:gosec
	if r.opts.KnownHosts != "" {
		cb, err := knownhosts.New(r.opts.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("loading known hosts %s: %w", r.opts.KnownHosts, err)
		}
		hostKey = cb
	} else {
		r.log.Warnw("ssh host key not verified", "host", r.opts.Host)
	}
	return &ssh.ClientConfig{
		User:            r.opts.Username,
		Auth:            []ssh.AuthMethod{ssh.Password(r.opts.Password)},
		HostKeyCallback: hostKey,
		Timeout:         r.opts.Timeout,
	}, nil
}

func (r *SSHRunner) connect() (*ssh.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client != nil {
		return r.client, nil
	}
	cfg, err := r.clientConfig()
	if err != nil {
		return nil, err
	}
	client, err := ssh.Dial("tcp", r.addr(), cfg)
	if err != nil {
		return nil, err
	}
	r.log.Debugw("connected", "addr", r.addr())
	r.client = client
	return client, nil
}

// drop forgets a broken connection so the next call redials.
func (r *SSHRunner) drop(client *ssh.Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == client {
		_ = r.client.Close()
		r.client = nil
	}
}

func (r *SSHRunner) Run(ctx context.Context, args []string) (string, error) {
	client, err := r.connect()
	if err != nil {
		return "", err
	}

	session, err := client.NewSession()
	if err != nil {
		r.drop(client)
		return "", fmt.Errorf("opening ssh session to %s: %w", r.addr(), err)
	}
	defer func() {
		if err := session.Close(); err != nil && !errors.Is(err, io.EOF) {
			r.log.Debugw("closing session", "error", err)
		}
	}()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	line := shellJoin(append([]string{r.opts.CLIPath}, cliArgs(r.opts.Username, r.opts.Password, args)...))
	done := make(chan error, 1)
	go func() { done <- session.Run(line) }()

	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return "", ctx.Err()
	case err = <-done:
	}

	var exitErr *ssh.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		r.drop(client)
		return "", fmt.Errorf("running command on %s: %w", r.addr(), err)
	}
	return result(args, stdout.String(), stderr.String(), err)
}

// Close releases the SSH connection.
func (r *SSHRunner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.client == nil {
		return nil
	}
	err := r.client.Close()
	r.client = nil
	return err
}

// shellJoin quotes each word for a POSIX shell.
func shellJoin(words []string) string {
	quoted := make([]string, len(words))
	for i, w := range words {
		if w != "" && strings.IndexFunc(w, needsQuote) < 0 {
			quoted[i] = w
			continue
		}
		quoted[i] = "'" + strings.ReplaceAll(w, "'", `'\''`) + "'"
	}
	return strings.Join(quoted, " ")
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("-_./:,=@", r)
}
