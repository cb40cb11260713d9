package evm

// CertificateRegistryABI is the ABI of the deployed certificate registry contract.
const CertificateRegistryABI = `[
  {"inputs":[{"internalType":"address","name":"_issuer","type":"address"}],"name":"addAuthorizedIssuer","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"address","name":"_issuer","type":"address"}],"name":"removeAuthorizedIssuer","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[{"internalType":"string","name":"_mongoHash","type":"string"},{"internalType":"string","name":"_ipfsHash","type":"string"}],"name":"storeCertificate","outputs":[],"stateMutability":"nonpayable","type":"function"},
  {"inputs":[],"stateMutability":"nonpayable","type":"constructor"},
  {"anonymous":false,"inputs":[{"indexed":true,"internalType":"string","name":"mongoHash","type":"string"},{"indexed":false,"internalType":"string","name":"ipfsHash","type":"string"},{"indexed":true,"internalType":"address","name":"issuer","type":"address"}],"name":"CertificateStored","type":"event"},
  {"inputs":[{"internalType":"address","name":"","type":"address"}],"name":"authorizedIssuers","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"string","name":"","type":"string"}],"name":"certificateExists","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"string","name":"","type":"string"}],"name":"certificates","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"string","name":"_mongoHash","type":"string"}],"name":"getCertificateIPFS","outputs":[{"internalType":"string","name":"","type":"string"}],"stateMutability":"view","type":"function"},
  {"inputs":[{"internalType":"string","name":"_mongoHash","type":"string"}],"name":"verifyCertificate","outputs":[{"internalType":"bool","name":"exists","type":"bool"},{"internalType":"string","name":"ipfsHash","type":"string"}],"stateMutability":"view","type":"function"}
]`

const (
	methodStore            = "storeCertificate"
	methodVerify           = "verifyCertificate"
	methodAuthorizedIssuer = "authorizedIssuers"
)
