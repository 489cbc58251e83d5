// certificate package produces and verifies the signed artifacts issued by
// the tollbooth authority.
//
// Two signing schemes are supported: compact EdDSA JWTs for bearer-token
// deployments, and BIP-340 signed event envelopes (kind 30079) for relay
// distribution. Both carry the same claims; NewSigner picks the scheme from
// configuration. See the tollbooth package for the issuance flow.
package certificate
