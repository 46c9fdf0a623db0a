// Package appid registers the embedded application identity with gofulmen
// and exposes identity lookup to the rest of the gateway.
package appid

import (
	"context"

	"github.com/fulmenhq/gofulmen/appidentity"

	appidentityassets "github.com/pressgate/pressgate/internal/assets/appidentity"
)

func init() {
	// Registration is best effort: an external `.fulmen/app.yaml` or the
	// FULMEN_APP_IDENTITY_PATH override still wins over the embedded copy.
	_ = appidentity.RegisterEmbeddedIdentityYAML(appidentityassets.YAML)
}

// Get resolves the application identity through gofulmen's lookup chain.
func Get(ctx context.Context) (*appidentity.Identity, error) {
	return appidentity.Get(ctx)
}
