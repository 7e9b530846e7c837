// Package dump produces compressed logical backups of the MySQL databases
// on a Plesk server. It shells out to the mysql client and mysqldump using
// the Plesk admin credentials; it never talks to the server over a driver.
package dump

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Databases managed by the server itself, never worth dumping.
var systemSchemas = map[string]bool{
	"information_schema": true,
	"performance_schema": true,
	"mysql":              true,
	"sys":                true,
	"psa":                false, // the Plesk panel DB is included on purpose
}

// Command describes one external command invocation.
type Command struct {
	Name string
	Args []string
	Env  []string // appended to the inherited environment
}

// Runner executes an external command, streaming stdout to out (if non-nil)
// and capturing exit status. Implementations return stderr content in the
// error on failure.
type Runner interface {
	Run(ctx context.Context, cmd Command, out io.Writer) error
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, c Command, out io.Writer) error {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Env = append(os.Environ(), c.Env...)
	cmd.Stdout = out
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("%s: %w: %s", c.Name, err, msg)
		}
		return fmt.Errorf("%s: %w", c.Name, err)
	}
	return nil
}

// Provider enumerates and dumps databases through the Plesk admin account.
type Provider struct {
	runner          Runner
	adminUser       string
	passwordRefPath string
}

// NewProvider creates a dump provider. A nil runner uses os/exec.
// passwordRefPath is the file holding the Plesk MySQL admin password,
// /etc/psa/.psa.shadow on a standard install.
func NewProvider(runner Runner, passwordRefPath string) *Provider {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &Provider{
		runner:          runner,
		adminUser:       "admin",
		passwordRefPath: passwordRefPath,
	}
}

// adminEnv returns the MYSQL_PWD assignment for the admin account, read
// fresh on every call since Plesk rotates the shadow file on upgrades.
func (p *Provider) adminEnv() ([]string, error) {
	data, err := os.ReadFile(p.passwordRefPath)
	if err != nil {
		return nil, fmt.Errorf("reading admin password: %w", err)
	}
	return []string{"MYSQL_PWD=" + strings.TrimSpace(string(data))}, nil
}

// ListDatabases returns the names of all dumpable databases on the server,
// excluding system schemas.
func (p *Provider) ListDatabases(ctx context.Context) ([]string, error) {
	env, err := p.adminEnv()
	if err != nil {
		return nil, err
	}

	var out bytes.Buffer
	cmd := Command{
		Name: "mysql",
		Args: []string{"-u", p.adminUser, "-N", "-B", "-e", "SHOW DATABASES"},
		Env:  env,
	}
	if err := p.runner.Run(ctx, cmd, &out); err != nil {
		return nil, fmt.Errorf("listing databases: %w", err)
	}

	var names []string
	for _, line := range strings.Split(out.String(), "\n") {
		name := strings.TrimSpace(line)
		if name == "" || systemSchemas[name] {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

// DumpDatabase writes a gzip-compressed mysqldump of the named database to
// destPath and returns the number of compressed bytes written. A failed dump
// removes the partial file.
func (p *Provider) DumpDatabase(ctx context.Context, name, destPath string) (int64, error) {
	env, err := p.adminEnv()
	if err != nil {
		return 0, err
	}

	out, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return 0, fmt.Errorf("creating dump file: %w", err)
	}

	counter := &countingWriter{w: out}
	gz := gzip.NewWriter(counter)

	cmd := Command{
		Name: "mysqldump",
		Args: []string{
			"-u", p.adminUser,
			"--single-transaction",
			"--quick",
			"--routines",
			"--triggers",
			name,
		},
		Env: env,
	}
	runErr := p.runner.Run(ctx, cmd, gz)

	if err := gz.Close(); runErr == nil {
		runErr = err
	}
	if err := out.Close(); runErr == nil {
		runErr = err
	}
	if runErr != nil {
		os.Remove(destPath)
		return 0, fmt.Errorf("dumping %s: %w", name, runErr)
	}
	return counter.n, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
