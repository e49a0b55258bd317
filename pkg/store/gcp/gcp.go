// Package gcp implements the adapter capabilities on Firestore, Secret
// Manager, and Cloud Storage. Everything except this file builds only under
// the gcp tag, which keeps the SDK out of default builds.
package gcp

import "os"

// ProjectIDFromEnv resolves the project from the environment, preferring
// GOOGLE_CLOUD_PROJECT over the legacy GCP_PROJECT.
func ProjectIDFromEnv() string {
	if p := os.Getenv("GOOGLE_CLOUD_PROJECT"); p != "" {
		return p
	}
	return os.Getenv("GCP_PROJECT")
}
