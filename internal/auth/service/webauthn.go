package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aussiebroadwan/tillauth/internal/auth/audit"
	"github.com/aussiebroadwan/tillauth/internal/auth/domain"
	"github.com/aussiebroadwan/tillauth/internal/auth/metrics"
	"github.com/aussiebroadwan/tillauth/internal/auth/store"
	"github.com/aussiebroadwan/tillauth/pkg/cryptox"
	"github.com/aussiebroadwan/tillauth/pkg/idx"
	"github.com/aussiebroadwan/tillauth/pkg/slogx"
	"github.com/aussiebroadwan/tillauth/pkg/webauthnx"
)

const challengeSize = 32

// WebAuthnService runs platform-authenticator registration and
// authentication ceremonies. A failed ceremony changes nothing except
// consuming its challenge.
type WebAuthnService struct {
	Store   store.Store
	TTL     store.TTLStore
	Audit   audit.Emitter
	Metrics *metrics.Metrics
	Replay  ReplayGuard

	RPID   string
	RPName string
	Origin string

	// EnforceOrigin is false only outside production, where browsers run
	// on arbitrary dev origins.
	EnforceOrigin bool

	ChallengeTTL time.Duration
	StoreTimeout time.Duration
	Now          func() time.Time
}

// BeginRegistration stores a fresh challenge for (user, register) and
// returns the creation options, excluding credentials the user already has.
func (s *WebAuthnService) BeginRegistration(ctx context.Context, user domain.User) (*webauthnx.CreationOptions, error) {
	ctx, cancel := withStoreTimeout(ctx, s.StoreTimeout)
	defer cancel()

	creds, err := s.Store.Credentials().ListCredentialsForUser(ctx, user.ID)
	if err != nil {
		return nil, transient(err)
	}
	challenge, err := s.newChallenge(ctx, user.ID, domain.CeremonyRegister)
	if err != nil {
		return nil, err
	}

	displayName := user.DisplayName
	if displayName == "" {
		displayName = user.Username
	}

	return &webauthnx.CreationOptions{
		Challenge: webauthnx.EncodeURL(challenge),
		RP:        webauthnx.RelyingParty{ID: s.RPID, Name: s.RPName},
		User: webauthnx.UserEntity{
			ID:          webauthnx.EncodeURL([]byte(user.ID)),
			Name:        user.Username,
			DisplayName: displayName,
		},
		PubKeyCredParams: []webauthnx.CredentialParameter{
			{Type: webauthnx.PublicKeyType, Alg: webauthnx.AlgES256},
			{Type: webauthnx.PublicKeyType, Alg: webauthnx.AlgEdDSA},
			{Type: webauthnx.PublicKeyType, Alg: webauthnx.AlgRS256},
		},
		AuthenticatorSelection: webauthnx.AuthenticatorSelection{
			AuthenticatorAttachment: "platform",
			UserVerification:        "required",
			ResidentKey:             "preferred",
		},
		Timeout:            s.challengeTTL().Milliseconds(),
		Attestation:        "none",
		ExcludeCredentials: descriptors(creds),
	}, nil
}

// CompleteRegistration verifies a registration response and stores the new
// credential. Checks run in a fixed order and the first failure wins.
func (s *WebAuthnService) CompleteRegistration(
	ctx context.Context,
	user domain.User,
	resp webauthnx.RegistrationResponse,
	label string,
) (domain.Credential, error) {
	ctx, cancel := withStoreTimeout(ctx, s.StoreTimeout)
	defer cancel()

	cred, err := s.completeRegistration(ctx, user, resp, label)
	s.Metrics.Ceremony(string(domain.CeremonyRegister), err == nil)
	if err != nil {
		s.ceremonyFailed(ctx, user.ID, domain.CeremonyRegister, err)
		return domain.Credential{}, err
	}

	s.emit(audit.Event{
		Type:    audit.EventCredentialRegistered,
		UserID:  user.ID,
		Details: map[string]any{"aaguid": cred.AAGUID, "device_class": cred.DeviceClass},
	})
	return cred, nil
}

func (s *WebAuthnService) completeRegistration(
	ctx context.Context,
	user domain.User,
	resp webauthnx.RegistrationResponse,
	label string,
) (domain.Credential, error) {
	challenge, err := s.consumeChallenge(ctx, user.ID, domain.CeremonyRegister)
	if err != nil {
		return domain.Credential{}, err
	}

	if resp.ID == "" || resp.RawID == "" || resp.Response.ClientDataJSON == "" || resp.Response.AttestationObject == "" {
		return domain.Credential{}, ErrMalformedResponse
	}

	if err := s.verifyClientData(resp.Response.ClientDataJSON, challenge, webauthnx.TypeCreate); err != nil {
		return domain.Credential{}, err
	}

	rawObj, err := webauthnx.DecodeURL(resp.Response.AttestationObject)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("%w: attestation object: %v", ErrMalformedResponse, err)
	}
	_, authData, err := webauthnx.ParseAttestationObject(rawObj)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	rawID, err := webauthnx.DecodeURL(resp.RawID)
	if err != nil || !bytes.Equal(rawID, authData.CredentialID) {
		return domain.Credential{}, fmt.Errorf("%w: rawId does not match attested credential", ErrMalformedResponse)
	}
	if err := checkUserVerified(authData); err != nil {
		return domain.Credential{}, err
	}

	class := domain.DeviceClassPlatform
	if resp.AuthenticatorAttachment == string(domain.DeviceClassCrossPlatform) {
		class = domain.DeviceClassCrossPlatform
	}

	now := nowOr(s.Now)
	cred := domain.Credential{
		ID:           idx.NewAt(now).String(),
		UserID:       user.ID,
		CredentialID: webauthnx.EncodeURL(authData.CredentialID),
		PublicKey:    authData.PublicKey,
		SignCount:    authData.SignCount,
		AAGUID:       authData.AAGUID,
		Label:        label,
		DeviceClass:  class,
		CreatedAt:    now,
	}
	if err := s.Store.Credentials().CreateCredential(ctx, cred); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.Credential{}, ErrCredentialExists
		}
		return domain.Credential{}, transient(err)
	}
	return cred, nil
}

// BeginAuthentication stores a fresh challenge for (user, authenticate)
// and lists the credentials the browser may use.
func (s *WebAuthnService) BeginAuthentication(ctx context.Context, user domain.User) (*webauthnx.RequestOptions, error) {
	ctx, cancel := withStoreTimeout(ctx, s.StoreTimeout)
	defer cancel()

	creds, err := s.Store.Credentials().ListCredentialsForUser(ctx, user.ID)
	if err != nil {
		return nil, transient(err)
	}
	if len(creds) == 0 {
		return nil, ErrNoCredentialsRegistered
	}

	challenge, err := s.newChallenge(ctx, user.ID, domain.CeremonyAuthenticate)
	if err != nil {
		return nil, err
	}

	return &webauthnx.RequestOptions{
		Challenge:        webauthnx.EncodeURL(challenge),
		RPID:             s.RPID,
		AllowCredentials: descriptors(creds),
		UserVerification: "required",
		Timeout:          s.challengeTTL().Milliseconds(),
	}, nil
}

// CompleteAuthentication verifies an assertion and advances the stored
// signature counter.
func (s *WebAuthnService) CompleteAuthentication(
	ctx context.Context,
	user domain.User,
	resp webauthnx.AuthenticationResponse,
) (domain.Credential, error) {
	ctx, cancel := withStoreTimeout(ctx, s.StoreTimeout)
	defer cancel()

	cred, err := s.completeAuthentication(ctx, user, resp)
	s.Metrics.Ceremony(string(domain.CeremonyAuthenticate), err == nil)
	if err != nil {
		if errors.Is(err, ErrReplaySuspected) {
			s.Metrics.ReplaySuspected()
			s.emit(audit.Event{
				Type:    audit.EventReplaySuspected,
				UserID:  user.ID,
				Details: map[string]any{"credential_id": cred.CredentialID, "stored_count": cred.SignCount},
			})
		}
		s.ceremonyFailed(ctx, user.ID, domain.CeremonyAuthenticate, err)
		return domain.Credential{}, err
	}

	s.emit(audit.Event{Type: audit.EventAuthenticated, UserID: user.ID, Details: map[string]any{"credential_id": cred.CredentialID}})
	return cred, nil
}

// completeAuthentication returns the stored credential alongside a replay
// error so the caller can report it.
func (s *WebAuthnService) completeAuthentication(
	ctx context.Context,
	user domain.User,
	resp webauthnx.AuthenticationResponse,
) (domain.Credential, error) {
	challenge, err := s.consumeChallenge(ctx, user.ID, domain.CeremonyAuthenticate)
	if err != nil {
		return domain.Credential{}, err
	}

	rawID, err := webauthnx.DecodeURL(resp.ID)
	if err != nil || len(rawID) == 0 {
		return domain.Credential{}, ErrCredentialNotFound
	}
	cred, err := s.Store.Credentials().GetCredential(ctx, user.ID, webauthnx.EncodeURL(rawID))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Credential{}, ErrCredentialNotFound
		}
		return domain.Credential{}, transient(err)
	}

	r := resp.Response
	if r.ClientDataJSON == "" || r.AuthenticatorData == "" || r.Signature == "" {
		return domain.Credential{}, ErrMalformedResponse
	}
	clientDataJSON, err1 := webauthnx.DecodeURL(r.ClientDataJSON)
	authData, err2 := webauthnx.DecodeURL(r.AuthenticatorData)
	sig, err3 := webauthnx.DecodeURL(r.Signature)
	if err := errors.Join(err1, err2, err3); err != nil {
		return domain.Credential{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if err := s.checkClientData(clientDataJSON, challenge, webauthnx.TypeGet); err != nil {
		return domain.Credential{}, err
	}

	ad, err := webauthnx.ParseAuthenticatorData(authData)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if err := webauthnx.VerifyAssertion(cred.PublicKey, authData, clientDataJSON, sig); err != nil {
		return domain.Credential{}, fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if err := checkUserVerified(ad); err != nil {
		return domain.Credential{}, err
	}

	now := nowOr(s.Now)
	counter := ad.SignCount
	if err := s.Replay.Check(cred, counter); err != nil {
		return cred, err
	}

	if counter == 0 {
		err = s.Store.Credentials().TouchCredential(ctx, cred.ID, now)
	} else {
		err = s.Store.Credentials().AdvanceSignCount(ctx, cred.ID, counter, now)
		if errors.Is(err, store.ErrNotFound) {
			// Another assertion advanced the counter first.
			return cred, ErrReplaySuspected
		}
	}
	if err != nil {
		return domain.Credential{}, transient(mapNotFound(err))
	}

	if counter != 0 {
		cred.SignCount = counter
	}
	cred.LastUsedAt = &now
	return cred, nil
}

func (s *WebAuthnService) ListCredentials(ctx context.Context, userID string) ([]domain.Credential, error) {
	ctx, cancel := withStoreTimeout(ctx, s.StoreTimeout)
	defer cancel()

	creds, err := s.Store.Credentials().ListCredentialsForUser(ctx, userID)
	return creds, transient(err)
}

func (s *WebAuthnService) DeleteCredential(ctx context.Context, userID, credentialID string) error {
	ctx, cancel := withStoreTimeout(ctx, s.StoreTimeout)
	defer cancel()

	if err := s.Store.Credentials().DeleteCredential(ctx, userID, credentialID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrCredentialNotFound
		}
		return transient(err)
	}
	s.emit(audit.Event{Type: audit.EventCredentialDeleted, UserID: userID, Details: map[string]any{"credential_id": credentialID}})
	return nil
}

func (s *WebAuthnService) newChallenge(ctx context.Context, userID string, kind domain.CeremonyKind) ([]byte, error) {
	challenge, err := cryptox.RandomBytes(challengeSize)
	if err != nil {
		return nil, err
	}
	if err := s.TTL.Challenges().PutChallenge(ctx, userID, kind, challenge, s.challengeTTL()); err != nil {
		return nil, transient(err)
	}
	return challenge, nil
}

func (s *WebAuthnService) consumeChallenge(ctx context.Context, userID string, kind domain.CeremonyKind) ([]byte, error) {
	challenge, err := s.TTL.Challenges().ConsumeChallenge(ctx, userID, kind)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrChallengeExpired
	}
	if err != nil {
		return nil, transient(err)
	}
	return challenge, nil
}

// verifyClientData decodes base64url clientDataJSON and checks it.
func (s *WebAuthnService) verifyClientData(encoded string, challenge []byte, wantType string) error {
	raw, err := webauthnx.DecodeURL(encoded)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidClientData, err)
	}
	return s.checkClientData(raw, challenge, wantType)
}

// checkClientData runs challenge, origin and type checks in that order.
func (s *WebAuthnService) checkClientData(raw, challenge []byte, wantType string) error {
	cd, err := webauthnx.ParseClientData(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidClientData, err)
	}
	if !cd.ChallengeMatches(challenge) {
		return ErrChallengeMismatch
	}
	if s.EnforceOrigin && cd.Origin != s.Origin {
		return ErrOriginMismatch
	}
	if cd.Type != wantType {
		return ErrInvalidCeremonyType
	}
	return nil
}

func (s *WebAuthnService) ceremonyFailed(ctx context.Context, userID string, kind domain.CeremonyKind, err error) {
	slogx.FromContext(ctx).Info("webauthn ceremony failed",
		slog.String("kind", string(kind)),
		slog.Any("error", err),
	)
	s.emit(audit.Event{
		Type:    audit.EventCeremonyFailed,
		UserID:  userID,
		Details: map[string]any{"kind": string(kind), "reason": err.Error()},
	})
}

func (s *WebAuthnService) challengeTTL() time.Duration {
	return orDefault(s.ChallengeTTL, DefaultChallengeTTL)
}

func (s *WebAuthnService) emit(e audit.Event) {
	if s.Audit != nil {
		s.Audit.Emit(e)
	}
}

func descriptors(creds []domain.Credential) []webauthnx.CredentialDescriptor {
	out := make([]webauthnx.CredentialDescriptor, 0, len(creds))
	for _, c := range creds {
		out = append(out, webauthnx.CredentialDescriptor{Type: webauthnx.PublicKeyType, ID: c.CredentialID})
	}
	return out
}

// checkUserVerified requires both UP and UV, matching the
// userVerification "required" the options ask for.
func checkUserVerified(ad webauthnx.AuthenticatorData) error {
	if !ad.UserPresent() || !ad.UserVerified() {
		return ErrUserNotVerified
	}
	return nil
}
