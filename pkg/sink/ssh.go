package sink

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SSHConfig describes the world server host and how to reach its
// console. ConsoleTemplate is a format string receiving one quoted
// command, e.g. `screen -S bedrock -p 0 -X stuff %s`.
type SSHConfig struct {
	Host            string
	Port            int
	Username        string
	Password        string
	PrivateKey      string
	ConsoleTemplate string
	FunctionDir     string
}

// SSHSink injects commands into a world server console over SSH and
// exports plans as .mcfunction files over SFTP.
type SSHSink struct {
	cfg    SSHConfig
	client *ssh.Client
}

// DialSSH connects to the world server host.
func DialSSH(cfg SSHConfig) (*SSHSink, error) {
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.ConsoleTemplate == "" {
		cfg.ConsoleTemplate = "screen -S bedrock -p 0 -X stuff %s"
	}
	if cfg.FunctionDir == "" {
		cfg.FunctionDir = "/srv/bedrock/behavior_packs/worldsmith/functions"
	}

	authMethods, err := buildAuthMethods(cfg)
	if err != nil {
		return nil, err
	}

	client, err := ssh.Dial("tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port), &ssh.ClientConfig{
		User:            cfg.Username,
		Auth:            authMethods,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("ssh dial failed: %w", err)
	}
	return &SSHSink{cfg: cfg, client: client}, nil
}

func (s *SSHSink) Close() error {
	return s.client.Close()
}

// Dispatch runs one command through the console template. The command
// gets a trailing newline so the console executes it immediately.
func (s *SSHSink) Dispatch(ctx context.Context, cmd string) error {
	quoted := fmt.Sprintf("%q", cmd+"\n")
	shell := fmt.Sprintf(s.cfg.ConsoleTemplate, quoted)
	if _, err := s.runCommand(ctx, shell); err != nil {
		return fmt.Errorf("console dispatch: %w", err)
	}
	return nil
}

// Export writes the commands as a .mcfunction file under the behavior
// pack so the build can be replayed with /function.
func (s *SSHSink) Export(_ context.Context, name string, commands []string) error {
	sftpClient, err := sftp.NewClient(s.client)
	if err != nil {
		return fmt.Errorf("open sftp: %w", err)
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(s.cfg.FunctionDir); err != nil {
		return fmt.Errorf("create function dir: %w", err)
	}

	path := filepath.Join(s.cfg.FunctionDir, name+".mcfunction")
	file, err := sftpClient.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	content := strings.Join(commands, "\n") + "\n"
	if _, err := file.Write([]byte(content)); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return file.Chmod(0o644)
}

func (s *SSHSink) runCommand(ctx context.Context, command string) (string, error) {
	sess, err := s.client.NewSession()
	if err != nil {
		return "", err
	}
	defer sess.Close()

	var stdout, stderr bytes.Buffer
	sess.Stdout = &stdout
	sess.Stderr = &stderr

	done := make(chan error, 1)
	go func() {
		done <- sess.Run(command)
	}()

	select {
	case <-ctx.Done():
		_ = sess.Signal(ssh.SIGKILL)
		return "", ctx.Err()
	case err := <-done:
		if err != nil {
			return stdout.String(), fmt.Errorf("%w: %s", err, strings.TrimSpace(stderr.String()))
		}
	}

	return strings.TrimSpace(stdout.String()), nil
}

func buildAuthMethods(cfg SSHConfig) ([]ssh.AuthMethod, error) {
	authMethods := make([]ssh.AuthMethod, 0, 2)
	if key := strings.TrimSpace(cfg.PrivateKey); key != "" {
		signer, err := ssh.ParsePrivateKey([]byte(key))
		if err != nil {
			return nil, fmt.Errorf("parse ssh private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}
	if password := strings.TrimSpace(cfg.Password); password != "" {
		authMethods = append(authMethods, ssh.Password(password))
	}
	if len(authMethods) > 0 {
		return authMethods, nil
	}

	signer, err := defaultPrivateKeySigner()
	if err != nil {
		return nil, fmt.Errorf("no authentication method provided: %w", err)
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

func defaultPrivateKeySigner() (ssh.Signer, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		data, err := os.ReadFile(filepath.Join(home, ".ssh", name))
		if err != nil {
			continue
		}
		signer, parseErr := ssh.ParsePrivateKey(data)
		if parseErr != nil {
			continue
		}
		return signer, nil
	}
	return nil, fmt.Errorf("no default private key found")
}
