package tabular

import (
	"context"
	"io"
	"net"
	"os"
	"path"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout-cli/internal/config"
)

// VendorFTP moves list files to and from the cleaning vendor's FTP drop.
type VendorFTP struct {
	cfg     config.VendorFTPConfig
	timeout time.Duration
}

// NewVendorFTP creates a vendor FTP client.
func NewVendorFTP(cfg config.VendorFTPConfig) *VendorFTP {
	return &VendorFTP{cfg: cfg, timeout: 30 * time.Second}
}

// Enabled reports whether a vendor drop is configured.
func (v *VendorFTP) Enabled() bool {
	return v.cfg.Host != ""
}

func (v *VendorFTP) connect(ctx context.Context) (*ftp.ServerConn, error) {
	host := v.cfg.Host
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, "21")
	}

	conn, err := ftp.Dial(host, ftp.DialWithContext(ctx), ftp.DialWithTimeout(v.timeout))
	if err != nil {
		return nil, eris.Wrapf(err, "ftp: dial %s", host)
	}
	if err := conn.Login(v.cfg.User, v.cfg.Password); err != nil {
		_ = conn.Quit()
		return nil, eris.Wrap(err, "ftp: login")
	}
	return conn, nil
}

// Upload puts a local file into the vendor drop directory under
// remoteName.
func (v *VendorFTP) Upload(ctx context.Context, localPath, remoteName string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return eris.Wrapf(err, "ftp: open %s", localPath)
	}
	defer f.Close()

	conn, err := v.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Quit() }()

	remote := path.Join(v.cfg.Dir, remoteName)
	if err := conn.Stor(remote, f); err != nil {
		return eris.Wrapf(err, "ftp: store %s", remote)
	}

	zap.L().Info("uploaded list file to vendor drop",
		zap.String("local", localPath), zap.String("remote", remote))
	return nil
}

// Download retrieves a file from the vendor drop directory into localPath.
func (v *VendorFTP) Download(ctx context.Context, remoteName, localPath string) error {
	conn, err := v.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Quit() }()

	remote := path.Join(v.cfg.Dir, remoteName)
	resp, err := conn.Retr(remote)
	if err != nil {
		return eris.Wrapf(err, "ftp: retrieve %s", remote)
	}
	defer resp.Close()

	out, err := os.Create(localPath)
	if err != nil {
		return eris.Wrapf(err, "ftp: create %s", localPath)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp); err != nil {
		return eris.Wrapf(err, "ftp: copy %s", remote)
	}

	zap.L().Info("downloaded cleaned list file from vendor drop",
		zap.String("remote", remote), zap.String("local", localPath))
	return nil
}
