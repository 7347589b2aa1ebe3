/*
Package lightning is the JSON-RPC client for the host lightning node's
unix socket. It backs two external-collaborator interfaces: the signing
oracle (getinfo, signmessage, checkmessage) and the bond ledger
(listfunds). Every call is timeout-bounded and holds no store state.
*/
package lightning
