// Package config loads the credvault configuration file. Configuration is
// read once at startup and handed to the components that need it; scope
// profiles in particular are resolved into an immutable resolver instead of
// being re-parsed per call.
package config
