// Package jwt manages issuance and verification of access tokens and
// self-service reset tokens using configured signing keys and strict
// validation semantics.
package jwt
