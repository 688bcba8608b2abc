package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/tonimelisma/acctsync/internal/store"
	"github.com/tonimelisma/acctsync/internal/tokenfile"
)

func newConnectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Manage provider connections",
		Long: `Manage the OAuth connection each actor holds with the accounting provider.
The authorization handshake itself happens in the web app; its result is
handed over as a connection file.`,
	}

	cmd.AddCommand(newConnectImportCmd())
	cmd.AddCommand(newConnectExportCmd())
	cmd.AddCommand(newConnectRemoveCmd())

	return cmd
}

func newConnectImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Store a connection from a connection file",
		Long: `Load a connection file (OAuth token plus realm id) and store it as the
actor's newest credential. The actor comes from --actor or, failing that,
from the file's actor_id meta field.`,
		Args: cobra.ExactArgs(1),
		RunE: runConnectImport,
	}
}

func runConnectImport(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	f, err := tokenfile.Load(args[0])
	if err != nil {
		return err
	}

	actorID := cc.Flags.Actor
	if actorID == "" {
		actorID = f.ActorID()
	}

	if actorID == "" {
		return errors.New("connection file names no actor; pass --actor")
	}

	svc, err := openStore(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	cred := &store.Credential{
		ActorID:      actorID,
		RealmID:      f.RealmID(),
		AccessToken:  f.Token.AccessToken,
		RefreshToken: f.Token.RefreshToken,
		ExpiresAt:    f.Token.Expiry,
	}

	if err := svc.store.SaveCredential(ctx, cred); err != nil {
		return err
	}

	svc.audit.Info(ctx, actorID, "connect.import", map[string]any{"realm_id": cred.RealmID})

	cc.Statusf("Connected actor %s to realm %s\n", actorID, cred.RealmID)

	return nil
}

func newConnectExportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write the actor's current connection to a file",
		Args:  cobra.ExactArgs(1),
		RunE:  runConnectExport,
	}
}

func runConnectExport(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	actorID, err := cc.requireActor("connect export")
	if err != nil {
		return err
	}

	svc, err := openStore(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	cred, err := svc.store.LatestCredential(ctx, actorID)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("actor %s has no connection", actorID)
	}

	if err != nil {
		return err
	}

	err = tokenfile.Save(args[0], &tokenfile.File{
		Token: &oauth2.Token{
			AccessToken:  cred.AccessToken,
			RefreshToken: cred.RefreshToken,
			TokenType:    "Bearer",
			Expiry:       cred.ExpiresAt,
		},
		Meta: map[string]string{
			tokenfile.MetaRealmID: cred.RealmID,
			tokenfile.MetaActorID: actorID,
		},
	})
	if err != nil {
		return err
	}

	cc.Statusf("Wrote connection for actor %s to %s\n", actorID, args[0])

	return nil
}

func newConnectRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove",
		Short: "Delete the actor's stored connection",
		Long: `Delete every stored credential of the actor. Syncs for the actor fail
with token-expired until a new connection is imported.`,
		Args: cobra.NoArgs,
		RunE: runConnectRemove,
	}
}

func runConnectRemove(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	actorID, err := cc.requireActor("connect remove")
	if err != nil {
		return err
	}

	svc, err := openStore(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	n, err := svc.store.DeleteCredentials(ctx, actorID)
	if err != nil {
		return err
	}

	if n == 0 {
		cc.Statusf("Actor %s had no connection\n", actorID)
		return nil
	}

	svc.audit.Info(ctx, actorID, "connect.remove", map[string]any{"credentials": n})

	cc.Statusf("Removed connection for actor %s\n", actorID)

	return nil
}
