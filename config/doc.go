// Package config loads wallet settings from a YAML file with WALLET_*
// environment overrides.
//
//	wasmPath: /opt/wallet/zano_wallet.wasm
//	daemonUrl: http://127.0.0.1:11211
//	storage:
//	  workDir: /var/lib/wallet/work
//	  persistDir: /var/lib/wallet/persist
//	  watch: true
//	fetch:
//	  timeout: 30s
//	  requestsPerSecond: 20
//	log:
//	  level: debug
//
// Every string setting at the top level and under storage and log has a
// matching variable, for example WALLET_DAEMON_URL or WALLET_PERSIST_DIR.
package config
