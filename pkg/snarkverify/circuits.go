package snarkverify

import "github.com/consensys/gnark/frontend"

// The circuit types below exist only to give gnark's reflection-based witness builder
// (frontend.NewWitness) something to walk: the package's non-test code never calls Compile,
// Setup or Prove, so Define is empty -- it exists to satisfy frontend.Circuit (the package
// tests compile these empty circuits to produce real proofs). The real
// constraint systems these proofs were produced against are the out-of-scope
// `snark_verify` collaborator named in spec §1; this adapter only needs to reproduce the
// public witness assembly, field-for-field, in the order spec §3 defines.

type ageCircuit struct {
	CurrentYear        frontend.Variable `gnark:",public"`
	MinAge             frontend.Variable `gnark:",public"`
	CredentialHash     frontend.Variable `gnark:",public"`
	Nonce              frontend.Variable `gnark:",public"`
	RequestTimestampMs frontend.Variable `gnark:",public"`
}

func (c *ageCircuit) Define(api frontend.API) error { return nil }

type nationalityCircuit struct {
	TargetNationality  frontend.Variable `gnark:",public"`
	CredentialHash     frontend.Variable `gnark:",public"`
	Nonce              frontend.Variable `gnark:",public"`
	RequestTimestampMs frontend.Variable `gnark:",public"`
}

func (c *nationalityCircuit) Define(api frontend.API) error { return nil }

type ageRevocableCircuit struct {
	CurrentYear        frontend.Variable `gnark:",public"`
	MinAge             frontend.Variable `gnark:",public"`
	CredentialHash     frontend.Variable `gnark:",public"`
	MerkleRoot         frontend.Variable `gnark:",public"`
	Nonce              frontend.Variable `gnark:",public"`
	RequestTimestampMs frontend.Variable `gnark:",public"`
}

func (c *ageRevocableCircuit) Define(api frontend.API) error { return nil }

const issuerBits = 256

type ageSignedCircuit struct {
	CurrentYear         frontend.Variable     `gnark:",public"`
	MinAge              frontend.Variable     `gnark:",public"`
	CredentialHash      frontend.Variable     `gnark:",public"`
	Nonce               frontend.Variable     `gnark:",public"`
	RequestTimestampMs  frontend.Variable     `gnark:",public"`
	IssuerPublicKeyBits [issuerBits]frontend.Variable `gnark:",public"`
}

func (c *ageSignedCircuit) Define(api frontend.API) error { return nil }

type nationalitySignedCircuit struct {
	TargetNationality   frontend.Variable             `gnark:",public"`
	CredentialHash      frontend.Variable             `gnark:",public"`
	Nonce               frontend.Variable             `gnark:",public"`
	RequestTimestampMs  frontend.Variable             `gnark:",public"`
	IssuerPublicKeyBits [issuerBits]frontend.Variable `gnark:",public"`
}

func (c *nationalitySignedCircuit) Define(api frontend.API) error { return nil }
