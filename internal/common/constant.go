package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the access
// token on inbound requests.
const AccessTokenHeaderName = "access_token"

// DefaultTOTPIssuer is the issuer label written into provisioning URIs when
// the configuration does not override it.
const DefaultTOTPIssuer = "PEngineV"
