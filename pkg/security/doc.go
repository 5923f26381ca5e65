/*
Package security implements HyperBox's layered container isolation and the
supporting cryptographic services that back it: a capability-probed
security stack (pkg/security stack.go) applying user namespaces, Landlock,
seccomp, cgroup limits, image signature verification, and optional VM
isolation in a fixed order, plus a certificate authority and AES-256-GCM
at-rest encryption reused from the teacher's cluster security layer.

# Security Stack

SecurityStack.Apply(policy, containerID) probes each layer in
types.SecurityLayerOrder, applies whatever the host supports, and returns an
EnforcementReport recording Applied/Skipped/Failed per layer. Under
PostureBestEffort a missing capability is recorded Skipped and the
container still starts; under PostureHardened any layer in
policy.RequiredLayers that fails to apply aborts container creation with a
pkg/errors NotAvailable error.

# Certificate Authority

CertAuthority issues and verifies signing certificates (SecurityStack's
image_verification layer does not consult it): a 4096-bit RSA root (10 year validity, generated
once and persisted via pkg/storage) signs 2048-bit signer certificates
(90 day validity) for registries or build pipelines that produce trusted
image signatures. The root private key is encrypted at rest with
Encrypt/Decrypt before being written to storage.

# At-Rest Encryption

SecretsManager wraps AES-256-GCM for EncryptedProfile blobs: container
profile data (env values, bind-mount secrets) a caller wants stored
encrypted rather than in the clear. The host-wide key is derived once at
daemon startup via DeriveKeyFromHostID (SHA-256 of the host id) or supplied
directly.

# Usage

	store, _ := storage.NewBoltStore("/var/lib/hyperbox")
	security.SetHostEncryptionKey(security.DeriveKeyFromHostID(hostID))
	ca := security.NewCertAuthority(store)
	if !ca.IsInitialized() {
		ca.Initialize()
		ca.SaveToStore()
	}

	sm, _ := security.NewSecretsManager(security.DeriveKeyFromHostID(hostID))
	profile, _ := sm.CreateProfile("db-password", []byte("supersecret"))

# Threat Model

Protects against: container escape via missing namespace isolation,
unconstrained syscalls, unbounded resource consumption, and running images
whose signature doesn't chain to a trusted root.

Does not protect against: a compromised host kernel, a CRIU-dumped process
image leaking its own secrets, or an attacker with access to the unlocked
at-rest encryption key.

# See Also

  - pkg/types for SecurityPolicy, LayerStatus, EnforcementReport
  - pkg/storage for CA persistence
*/
package security
