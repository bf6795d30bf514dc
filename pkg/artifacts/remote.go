package artifacts

import (
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// RemoteCollector fetches artifacts over SFTP from nodes that do not have
// the shared output volume mounted.
type RemoteCollector struct {
	Addr       string
	Username   string
	Password   string
	PrivateKey string
}

// Collect downloads files matching the matcher from remoteDir into localDir
// and returns the local paths written.
func (c *RemoteCollector) Collect(remoteDir, localDir string, matcher Matcher) ([]string, error) {
	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            c.Username,
		Auth:            auth,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         30 * time.Second,
	}

	client, err := ssh.Dial("tcp", c.Addr, config)
	if err != nil {
		return nil, fmt.Errorf("ssh dial %s: %w", c.Addr, err)
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return nil, fmt.Errorf("open sftp session: %w", err)
	}
	defer sftpClient.Close()

	entries, err := sftpClient.ReadDir(remoteDir)
	if err != nil {
		return nil, fmt.Errorf("read remote dir %s: %w", remoteDir, err)
	}

	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return nil, fmt.Errorf("create local dir: %w", err)
	}

	var collected []string
	for _, entry := range entries {
		if entry.IsDir() || !matcher.Match(entry.Name()) {
			continue
		}
		local := filepath.Join(localDir, entry.Name())
		if err := c.fetchFile(sftpClient, path.Join(remoteDir, entry.Name()), local); err != nil {
			return collected, err
		}
		collected = append(collected, local)
	}
	return collected, nil
}

func (c *RemoteCollector) fetchFile(client *sftp.Client, remotePath, localPath string) error {
	src, err := client.Open(remotePath)
	if err != nil {
		return fmt.Errorf("open remote file %s: %w", remotePath, err)
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("create %s: %w", localPath, err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return fmt.Errorf("download %s: %w", remotePath, err)
	}
	return dst.Close()
}

func (c *RemoteCollector) authMethods() ([]ssh.AuthMethod, error) {
	methods := make([]ssh.AuthMethod, 0, 2)
	if key := strings.TrimSpace(c.PrivateKey); key != "" {
		signer, err := ssh.ParsePrivateKey([]byte(key))
		if err != nil {
			return nil, fmt.Errorf("parse ssh private key: %w", err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}
	if password := strings.TrimSpace(c.Password); password != "" {
		methods = append(methods, ssh.Password(password))
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("remote collector has no authentication method")
	}
	return methods, nil
}
