package reporting

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

// CertStatus records how the trust store was assembled.
type CertStatus struct {
	Success  bool     `json:"success"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// NewHTTPClient trusts the system roots plus the PEM bundle at extraCAFile,
// when set. Certificate verification is always on.
func NewHTTPClient(extraCAFile string, log *zap.Logger) (*http.Client, CertStatus) {
	log = log.Named("certs")
	status := CertStatus{Success: true, Errors: []string{}, Warnings: []string{}}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		msg := "system certificate pool unavailable"
		if err != nil {
			msg = fmt.Sprintf("%s: %v", msg, err)
		}
		log.Warn(msg)
		status.Warnings = append(status.Warnings, msg)
		status.Success = false
		pool = x509.NewCertPool()
	}

	if extraCAFile != "" {
		pem, err := os.ReadFile(extraCAFile)
		switch {
		case err != nil:
			msg := fmt.Sprintf("failed to load extra certificates from %s: %v", extraCAFile, err)
			log.Warn(msg)
			status.Warnings = append(status.Warnings, msg)
		case !pool.AppendCertsFromPEM(pem):
			msg := fmt.Sprintf("no certificates found in %s", extraCAFile)
			log.Warn(msg)
			status.Warnings = append(status.Warnings, msg)
		default:
			log.Info("loaded extra certificates", zap.String("file", extraCAFile))
			status.Warnings = append(status.Warnings, "loaded custom certificates from "+extraCAFile)
		}
	}

	return &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12, RootCAs: pool},
			MaxIdleConns:        5,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}, status
}
