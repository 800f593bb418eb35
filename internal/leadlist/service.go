// Package leadlist manages named groupings of staged leads through the
// export → vendor-clean → import round trip.
package leadlist

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadscout-cli/internal/config"
	"github.com/sells-group/leadscout-cli/internal/model"
	"github.com/sells-group/leadscout-cli/internal/store"
	"github.com/sells-group/leadscout-cli/internal/tabular"
	"github.com/sells-group/leadscout-cli/pkg/salesforce"
)

// ErrInvalidState is returned when an operation is not valid for the
// list's current status, e.g. adding members after export.
var ErrInvalidState = eris.New("leadlist: invalid list state")

// Service manages lead lists.
type Service struct {
	store store.Store
	sf    salesforce.Client
	ftp   *tabular.VendorFTP
	cfg   config.ListsConfig
}

// New creates a lead list service.
func New(st store.Store, sf salesforce.Client, ftp *tabular.VendorFTP, cfg config.ListsConfig) *Service {
	return &Service{store: st, sf: sf, ftp: ftp, cfg: cfg}
}

// Create creates a list with an optional initial membership.
func (s *Service) Create(ctx context.Context, name, description string, listType model.ListType, leadIDs []int64) (*model.LeadList, error) {
	if strings.TrimSpace(name) == "" {
		return nil, eris.New("leadlist: name is required")
	}
	list := &model.LeadList{
		Name:        name,
		Description: description,
		Type:        listType,
	}
	if err := s.store.CreateList(ctx, list, leadIDs); err != nil {
		return nil, eris.Wrap(err, "leadlist: create list")
	}
	list.MemberCount = len(leadIDs)
	return list, nil
}

// AddLeads adds members and returns how many were actually added.
// Membership freezes once the list has been imported.
func (s *Service) AddLeads(ctx context.Context, listID string, leadIDs []int64) (int, error) {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return 0, eris.Wrapf(err, "leadlist: load list %s", listID)
	}
	if list.Status == model.ListStatusImported {
		return 0, eris.Wrapf(ErrInvalidState, "list %s is imported, membership is frozen", listID)
	}
	added, err := s.store.AddListMembers(ctx, listID, leadIDs)
	if err != nil {
		return 0, eris.Wrap(err, "leadlist: add members")
	}
	return added, nil
}

// RemoveLeads removes members from a not-yet-imported list.
func (s *Service) RemoveLeads(ctx context.Context, listID string, leadIDs []int64) (int, error) {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return 0, eris.Wrapf(err, "leadlist: load list %s", listID)
	}
	if list.Status == model.ListStatusImported {
		return 0, eris.Wrapf(ErrInvalidState, "list %s is imported, membership is frozen", listID)
	}
	removed, err := s.store.RemoveListMembers(ctx, listID, leadIDs)
	if err != nil {
		return 0, eris.Wrap(err, "leadlist: remove members")
	}
	return removed, nil
}

// Export writes the list's members to a file in the configured export
// directory and, when a vendor drop is configured, uploads it. Export
// never changes the list status; the operator advances it with
// MarkExported once the file is really on its way, so a raw or exported
// list can be re-exported at will.
func (s *Service) Export(ctx context.Context, listID string, format tabular.Format) (string, error) {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return "", eris.Wrapf(err, "leadlist: load list %s", listID)
	}
	if list.Status != model.ListStatusRaw && list.Status != model.ListStatusExported {
		return "", eris.Wrapf(ErrInvalidState, "list %s is %s", listID, list.Status)
	}

	members, err := s.store.ListMembers(ctx, listID)
	if err != nil {
		return "", eris.Wrap(err, "leadlist: load members")
	}
	if len(members) == 0 {
		return "", eris.Errorf("leadlist: list %s has no members", listID)
	}

	rows := make([]tabular.Row, len(members))
	for i, lead := range members {
		rows[i] = tabular.Row{
			Company: lead.CompanyName,
			Website: lead.Website,
			Email:   lead.Email(),
			Phone:   lead.Phone(),
			Country: lead.Country,
		}
	}

	if err := os.MkdirAll(s.cfg.ExportDir, 0o755); err != nil {
		return "", eris.Wrap(err, "leadlist: create export dir")
	}
	path := filepath.Join(s.cfg.ExportDir, exportFileName(list, format))

	switch format {
	case tabular.FormatXLSX:
		err = tabular.WriteXLSX(path, rows)
	case tabular.FormatCSV:
		f, createErr := os.Create(path)
		if createErr != nil {
			return "", eris.Wrap(createErr, "leadlist: create export file")
		}
		err = tabular.WriteCSV(f, rows)
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	default:
		return "", eris.Errorf("leadlist: unsupported export format %q", format)
	}
	if err != nil {
		return "", eris.Wrap(err, "leadlist: write export file")
	}

	if s.ftp != nil && s.ftp.Enabled() {
		if err := s.ftp.Upload(ctx, path, filepath.Base(path)); err != nil {
			return "", err
		}
	}

	zap.L().Info("exported lead list",
		zap.String("list_id", listID), zap.String("path", path), zap.Int("rows", len(rows)))
	return path, nil
}

// MarkExported records that the exported file has been handed off.
func (s *Service) MarkExported(ctx context.Context, listID string) error {
	return s.advance(ctx, listID, []model.ListStatus{model.ListStatusRaw}, model.ListStatusExported)
}

// MarkCleaning records that the cleaning vendor has started on the
// exported file.
func (s *Service) MarkCleaning(ctx context.Context, listID string) error {
	return s.advance(ctx, listID, []model.ListStatus{model.ListStatusExported}, model.ListStatusCleaning)
}

// MarkCleaned records that the vendor has returned a cleaned file.
func (s *Service) MarkCleaned(ctx context.Context, listID string) error {
	return s.advance(ctx, listID, []model.ListStatus{model.ListStatusCleaning}, model.ListStatusCleaned)
}

func (s *Service) advance(ctx context.Context, listID string, from []model.ListStatus, to model.ListStatus) error {
	ok, err := s.store.AdvanceListStatus(ctx, listID, from, to)
	if err != nil {
		return eris.Wrapf(err, "leadlist: advance list %s", listID)
	}
	if !ok {
		list, getErr := s.store.GetList(ctx, listID)
		if getErr != nil {
			return eris.Wrapf(getErr, "leadlist: load list %s", listID)
		}
		return eris.Wrapf(ErrInvalidState, "list %s is %s, cannot become %s", listID, list.Status, to)
	}
	return nil
}

// DownloadCleaned pulls a cleaned file from the vendor drop into the
// export directory and returns the local path.
func (s *Service) DownloadCleaned(ctx context.Context, remoteName string) (string, error) {
	if s.ftp == nil || !s.ftp.Enabled() {
		return "", eris.New("leadlist: no vendor ftp configured")
	}
	if err := os.MkdirAll(s.cfg.ExportDir, 0o755); err != nil {
		return "", eris.Wrap(err, "leadlist: create export dir")
	}
	local := filepath.Join(s.cfg.ExportDir, filepath.Base(remoteName))
	if err := s.ftp.Download(ctx, remoteName, local); err != nil {
		return "", err
	}
	return local, nil
}

// Import reads a cleaned file and creates a CRM contact per row. Each row
// is fingerprinted on company and email; rows already imported into this
// list, and rows Salesforce flags as duplicates, are skipped. Any
// successful import moves the list to imported; one that makes no
// progress at all leaves the status alone so a corrected file can be
// re-run, with processed rows skipping via their fingerprints.
func (s *Service) Import(ctx context.Context, listID, path string, tags []string) (*model.ImportResult, error) {
	list, err := s.store.GetList(ctx, listID)
	if err != nil {
		return nil, eris.Wrapf(err, "leadlist: load list %s", listID)
	}
	if list.Status != model.ListStatusCleaning && list.Status != model.ListStatusCleaned {
		return nil, eris.Wrapf(ErrInvalidState, "list %s is %s, expected cleaning or cleaned", listID, list.Status)
	}

	rows, err := s.readRows(path)
	if err != nil {
		return nil, err
	}

	contactTags := append([]string{"list:" + list.Name}, tags...)

	res := &model.ImportResult{}
	for i, row := range rows {
		if row.Company == "" {
			res.Errors = append(res.Errors, model.ImportError{Row: i + 1, Err: "missing company"})
			continue
		}

		fp := model.Fingerprint(row.Company, row.Email)
		seen, err := s.store.HasImportFingerprint(ctx, listID, fp)
		if err != nil {
			return res, eris.Wrapf(err, "leadlist: fingerprint row %d", i+1)
		}
		if seen {
			res.Skipped++
			continue
		}

		_, err = salesforce.CreateContact(ctx, s.sf, salesforce.ContactFields{
			Company: row.Company,
			Email:   row.Email,
			Phone:   row.Phone,
			Website: row.Website,
			Country: row.Country,
			Tags:    contactTags,
		})
		if err != nil {
			if eris.Is(err, salesforce.ErrDuplicateContact) {
				// Stable: the CRM will flag it again, but recording the
				// fingerprint saves the round trip on re-import.
				if _, fpErr := s.store.TryAddImportFingerprint(ctx, listID, fp); fpErr != nil {
					return res, eris.Wrapf(fpErr, "leadlist: fingerprint row %d", i+1)
				}
				res.Skipped++
				continue
			}
			// No fingerprint: a failed row must stay importable.
			res.Errors = append(res.Errors, model.ImportError{Row: i + 1, Company: row.Company, Err: err.Error()})
			continue
		}
		if _, err := s.store.TryAddImportFingerprint(ctx, listID, fp); err != nil {
			return res, eris.Wrapf(err, "leadlist: fingerprint row %d", i+1)
		}
		res.Created++
	}

	if res.Created > 0 || len(res.Errors) == 0 {
		if _, err := s.store.AdvanceListStatus(ctx, listID,
			[]model.ListStatus{model.ListStatusCleaning, model.ListStatusCleaned}, model.ListStatusImported); err != nil {
			return res, eris.Wrap(err, "leadlist: mark imported")
		}
	}

	zap.L().Info("imported lead list",
		zap.String("list_id", listID),
		zap.Int("created", res.Created),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", len(res.Errors)))
	return res, nil
}

func (s *Service) readRows(path string) ([]tabular.Row, error) {
	format, err := tabular.DetectFormat(path)
	if err != nil {
		return nil, err
	}
	if format == tabular.FormatXLSX {
		return tabular.ReadXLSX(path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "leadlist: open %s", path)
	}
	defer f.Close()
	return tabular.ReadCSV(f)
}

func exportFileName(list *model.LeadList, format tabular.Format) string {
	name := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(list.Name), " ", "-"))
	short := list.ID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s-%s.%s", name, short, format)
}
