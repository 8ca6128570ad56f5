// Package authsession is the authenticated-session layer of the HeartPath
// patient app backend client.
//
// It holds a bearer access token and a longer-lived refresh token, attaches
// them to outbound requests, and turns a 401 from the API into exactly one
// refresh call no matter how many screens are fetching at the same time.
//
// # Architecture
//
// SecureStore: durable, app-private storage for three secrets (access token,
// refresh token, user id). Implementations live in stores/keyring (OS
// keychain via 99designs/keyring) and stores/fs (sealed file).
//
// State: the observable, non-secret projection of the session
// (authenticated or not, current user id) that UI code subscribes to.
//
// Coordinator: the single-flight refresh state machine. All requests that
// fail with 401 while a refresh is pending wait on that same refresh and all
// receive the same outcome. A failed refresh clears every stored secret and
// logs the session out.
//
// Client: the request executor. It builds requests, attaches the bearer
// token, decodes typed JSON responses and routes 401s into the Coordinator,
// retrying the original request at most once.
//
// # Basic Usage
//
//	ring, err := keyring.Open(keyring.Config{})
//	if err != nil {
//	    return err
//	}
//	store := keyring.New(ring, logger)
//	session := authsession.New("https://api.heartpath.app", store,
//	    authsession.WithRefreshTimeout(10*time.Second))
//
//	if err := session.Login(ctx, email, password); err != nil {
//	    return err
//	}
//
//	var meds []clients.Medication
//	err = session.Execute(ctx, authsession.Request{Method: http.MethodGet, Path: "/medications"}, &meds)
//	if authsession.IsLoginRequired(err) {
//	    // present the login flow
//	}
//
// # Security
//
// Token values are never logged; log lines carry only their presence. The
// refresh call is bounded by a timeout and an explicit Logout always wins
// over a refresh that completes after it. The bearer token is only sent to
// the scheme and host of the base URL; redirects elsewhere go out without it.
package authsession
