package certs

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Info describes the certificate currently being served.
type Info struct {
	Subject  string    `json:"subject"`
	Issuer   string    `json:"issuer"`
	NotAfter time.Time `json:"not_after"`
	DaysLeft int       `json:"days_left"`
	LoadedAt time.Time `json:"loaded_at"`
}

// Reloader serves a TLS key pair and swaps it when the files change on disk.
// It is safe for concurrent use.
type Reloader struct {
	certFile string
	keyFile  string

	// OnReload, if set, is called after every reload attempt.
	OnReload func(err error)

	// Logger receives watcher events. Nil means slog.Default.
	Logger *slog.Logger

	mu       sync.RWMutex
	cert     *tls.Certificate
	leaf     *x509.Certificate
	loadedAt time.Time
	now      func() time.Time
}

// Load reads the key pair from certFile and keyFile.
func Load(certFile, keyFile string) (*Reloader, error) {
	r := &Reloader{certFile: certFile, keyFile: keyFile, now: time.Now}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// GetCertificate returns the current key pair. It is meant for
// tls.Config.GetCertificate.
func (r *Reloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

// TLSConfig returns a server tls.Config backed by the reloader.
func (r *Reloader) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: r.GetCertificate,
	}
}

// Info reports the subject and validity of the current leaf certificate.
func (r *Reloader) Info() Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Info{
		Subject:  r.leaf.Subject.CommonName,
		Issuer:   r.leaf.Issuer.CommonName,
		NotAfter: r.leaf.NotAfter.UTC(),
		DaysLeft: int(r.leaf.NotAfter.Sub(r.now()).Hours() / 24),
		LoadedAt: r.loadedAt.UTC(),
	}
}

func (r *Reloader) reload() error {
	pair, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("certs: load key pair %q/%q: %w", r.certFile, r.keyFile, err)
	}
	leaf, err := x509.ParseCertificate(pair.Certificate[0])
	if err != nil {
		return fmt.Errorf("certs: parse %q: %w", r.certFile, err)
	}

	r.mu.Lock()
	r.cert = &pair
	r.leaf = leaf
	r.loadedAt = r.now()
	r.mu.Unlock()
	return nil
}

// Watch reloads the key pair whenever the cert or key file changes. It runs
// until ctx is cancelled.
//
// The parent directories are watched rather than the files. A direct write or
// atomic rename of cert/key is matched by name. Any other event in those
// directories triggers a reload when the resolved path of either file has
// changed, which covers secret volumes that swap a "..data" symlink.
//
// If a reload fails (e.g. the key was written before the cert), the error is
// logged and the previous pair stays active.
func (r *Reloader) Watch(ctx context.Context) error {
	log := r.Logger
	if log == nil {
		log = slog.Default()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("certs: %w", err)
	}
	defer watcher.Close()

	dirs := map[string]struct{}{
		filepath.Dir(r.certFile): {},
		filepath.Dir(r.keyFile):  {},
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			return fmt.Errorf("certs: watch %q: %w", dir, err)
		}
	}

	log.Info("certs: watching for changes", "cert_file", r.certFile, "key_file", r.keyFile)
	defer log.Debug("certs: stopped watching", "cert_file", r.certFile)

	certName, keyName := filepath.Clean(r.certFile), filepath.Clean(r.keyFile)
	targets := r.targets()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name := filepath.Clean(event.Name)
			if name == certName || name == keyName {
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
			} else if r.targets() == targets {
				continue
			}

			err := r.reload()
			if r.OnReload != nil {
				r.OnReload(err)
			}
			if err != nil {
				log.Error("certs: reload failed, keeping previous certificate", "err", err)
				continue
			}
			targets = r.targets()
			info := r.Info()
			log.Info("certs: reloaded", "subject", info.Subject, "not_after", info.NotAfter)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error("certs: watcher error", "err", err)
		}
	}
}

// targets returns the symlink-resolved cert and key paths. A path that cannot
// be resolved is returned as an empty string.
func (r *Reloader) targets() [2]string {
	var out [2]string
	for i, p := range []string{r.certFile, r.keyFile} {
		if resolved, err := filepath.EvalSymlinks(p); err == nil {
			out[i] = resolved
		}
	}
	return out
}
