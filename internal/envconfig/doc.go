// Package envconfig maps environment variables, optionally from a .env file,
// onto goGate.Config and the server's own settings.
package envconfig
