package session

import (
	"net"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// sshAuthMethods returns SSH authentication methods in priority order:
// 1. Password (also answered through keyboard-interactive)
// 2. Configured key file
// 3. SSH agent, when enabled
// 4. Default SSH keys, only if nothing above applies
func sshAuthMethods(cfg Config, logger logrus.FieldLogger) ([]ssh.AuthMethod, error) {
	var authMethods []ssh.AuthMethod

	if cfg.Password != "" {
		authMethods = append(authMethods,
			ssh.Password(cfg.Password),
			ssh.KeyboardInteractive(passwordChallenge(cfg.Password)),
		)
	}

	if cfg.KeyFile != "" {
		signer, err := loadKeyFile(cfg.KeyFile, cfg.KeyPassphrase)
		if err != nil {
			return nil, err
		}

		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	if cfg.UseAgent {
		if agentAuth := trySSHAgent(); agentAuth != nil {
			authMethods = append(authMethods, agentAuth)
		} else {
			logger.Warn("SSH agent requested but SSH_AUTH_SOCK is not usable")
		}
	}

	if len(authMethods) == 0 {
		authMethods = append(authMethods, tryDefaultSSHKeys()...)
	}

	if len(authMethods) == 0 {
		return nil, errors.New("no SSH authentication methods available (tried password, key file, SSH agent and default keys)")
	}

	return authMethods, nil
}

// hostKeyCallback verifies host keys against a known_hosts file when one is
// configured.
func hostKeyCallback(cfg Config, logger logrus.FieldLogger) (ssh.HostKeyCallback, error) {
	if cfg.KnownHostsFile != "" {
		callback, err := knownhosts.New(cfg.KnownHostsFile)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to load known hosts from %s", cfg.KnownHostsFile)
		}

		return callback, nil
	}

	if !cfg.InsecureHostKey {
		logger.Warn("no known_hosts file configured, host key will not be verified")
	}

	return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // Verification is opt-in through KnownHostsFile
}

func loadKeyFile(path, passphrase string) (ssh.Signer, error) {
	keyData, err := os.ReadFile(path) //nolint:gosec // Key path comes from user configuration
	if err != nil {
		return nil, errors.Wrap(err, "failed to read key file")
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}

	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse key file %s", path)
	}

	return signer, nil
}

// passwordChallenge answers every keyboard-interactive question with the
// password, which is what servers that disable plain password auth ask for.
func passwordChallenge(password string) ssh.KeyboardInteractiveChallenge {
	return func(_, _ string, questions []string, _ []bool) ([]string, error) {
		answers := make([]string, len(questions))
		for i := range answers {
			answers[i] = password
		}

		return answers, nil
	}
}

// trySSHAgent attempts to connect to the SSH agent.
func trySSHAgent() ssh.AuthMethod {
	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	conn, err := net.Dial("unix", socket)
	if err != nil {
		return nil
	}

	agentClient := agent.NewClient(conn)

	return ssh.PublicKeysCallback(agentClient.Signers)
}

// tryDefaultSSHKeys loads unencrypted keys from default locations.
func tryDefaultSSHKeys() []ssh.AuthMethod {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil
	}

	sshDir := filepath.Join(homeDir, ".ssh")

	keyFiles := []string{
		filepath.Join(sshDir, "id_ed25519"),
		filepath.Join(sshDir, "id_rsa"),
		filepath.Join(sshDir, "id_ecdsa"),
	}

	var authMethods []ssh.AuthMethod

	for _, keyPath := range keyFiles {
		signer, err := loadKeyFile(keyPath, "")
		if err != nil {
			// missing or passphrase protected
			continue
		}

		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	return authMethods
}
