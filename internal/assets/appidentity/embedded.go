package appidentityassets

import _ "embed"

// YAML holds the application identity document compiled into the binary, so
// a standalone `pressgate` resolves its identity without an external
// `.fulmen/app.yaml` on disk.
//
//go:embed app.yaml
var YAML []byte
