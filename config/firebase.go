package config

import (
	"context"

	firebase "firebase.google.com/go/v4"
)

// SetupFirebase builds the Firebase app from the ambient Google credentials.
// bucket may be empty when attachments are not stored in Firebase.
func SetupFirebase(ctx context.Context, bucket string) (*firebase.App, error) {
	var conf *firebase.Config
	if bucket != "" {
		conf = &firebase.Config{StorageBucket: bucket}
	}
	return firebase.NewApp(ctx, conf)
}
