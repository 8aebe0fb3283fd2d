// Package license is the capability oracle consulted before licensed
// extractors run. Key resolution precedence: constructor argument, then
// the CHATVAULT_LICENSE_KEY environment variable, then the license_key
// row in Settings.
package license

import (
	"context"
	"os"
	"strings"

	"github.com/castellan/chatvault/internal/data/repos/settings"
	domainsettings "github.com/castellan/chatvault/internal/domain/settings"
	"github.com/castellan/chatvault/internal/pkg/dbctx"
	"github.com/castellan/chatvault/internal/platform/logger"
)

const EnvLicenseKey = "CHATVAULT_LICENSE_KEY"

// Features gated behind a license.
const (
	FeatureDOCXImport = "docx_import"
)

type Oracle interface {
	HasFeature(name string) bool
}

type Manager struct {
	key      string
	settings settings.SettingRepo
	log      *logger.Logger
}

func NewManager(key string, settingRepo settings.SettingRepo, log *logger.Logger) *Manager {
	return &Manager{
		key:      strings.TrimSpace(key),
		settings: settingRepo,
		log:      log.With("component", "LicenseManager"),
	}
}

func (m *Manager) resolveKey() string {
	if m.key != "" {
		return m.key
	}
	if env := strings.TrimSpace(os.Getenv(EnvLicenseKey)); env != "" {
		return env
	}
	if m.settings != nil {
		return strings.TrimSpace(m.settings.GetString(dbctx.New(context.Background()), domainsettings.KeyLicenseKey, ""))
	}
	return ""
}

// HasFeature reports whether the resolved key unlocks the feature.
// Validation here is presence-only; signature checks live outside the
// core (policy is external).
func (m *Manager) HasFeature(name string) bool {
	if name == "" {
		return true
	}
	return m.resolveKey() != ""
}

// Static is a fixed-answer oracle for tests.
type Static bool

func (s Static) HasFeature(string) bool { return bool(s) }
