package app

import (
	"context"
	"fmt"
	"sync"

	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/option"
)

// firebaseApp is created on first use so memory and redis profiles never
// need Google credentials.
type firebaseApp struct {
	projectID       string
	credentialsFile string

	once sync.Once
	app  *firebase.App
	err  error
}

func provideFirebase(p Params) *firebaseApp {
	return &firebaseApp{
		projectID:       p.Config.Store.ProjectID,
		credentialsFile: p.Config.Store.CredentialsFile,
	}
}

func (f *firebaseApp) get(ctx context.Context) (*firebase.App, error) {
	f.once.Do(func() {
		var conf *firebase.Config
		if f.projectID != "" {
			conf = &firebase.Config{ProjectID: f.projectID}
		}
		var opts []option.ClientOption
		if f.credentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(f.credentialsFile))
		}
		f.app, f.err = firebase.NewApp(ctx, conf, opts...)
		if f.err != nil {
			f.err = fmt.Errorf("init firebase app: %w", f.err)
		}
	})
	return f.app, f.err
}
