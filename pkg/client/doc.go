// Package client is the Go SDK for the multi-signature wallet daemon.
//
// # Read-only access
//
// Queries are public and need no credentials:
//
//	c, _ := client.New("http://localhost:8080")
//	info, err := c.Wallet(ctx)
//	tx, err := c.Transaction(ctx, 3)
//
// # Acting as an owner
//
// Mutating calls need an owner token. Give the client the owner's key and
// it signs the login challenge and refreshes the token on its own:
//
//	key, _ := client.LoadKey(os.ExpandEnv("$HOME/.msig/owner.key"))
//	c, _ := client.New(walletURL, client.WithOwnerKey(key))
//	idx, err := c.Submit(ctx, to, big.NewInt(1e18), nil)
//	err = c.Confirm(ctx, idx)
//	err = c.Execute(ctx, idx)
//
// A token obtained elsewhere can be attached with WithBearerToken; it is
// never refreshed.
//
// # Callbacks during execution
//
// An endpoint invoked by the wallet while executing a transaction receives
// the call id in the X-Wallet-Call header. Requests made under a context
// returned by JoinCall carry that id, so the wallet runs them as part of the
// execution instead of waiting for it to finish:
//
//	ctx = client.JoinCall(r.Context(), r.Header.Get(client.CallHeader))
//	_, err := c.Submit(ctx, next, value, data)
//
// # Errors
//
// Non-2xx responses are returned as *APIError. Use IsCode to branch on the
// daemon's stable error codes:
//
//	if client.IsCode(err, client.CodeAlreadyConfirmed) { ... }
package client
