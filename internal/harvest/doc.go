// Package harvest turns batches of repository node ids into downloaded build
// descriptors. It owns the detail query, the language filter, the per
// repository tree walk and the bounded download fan-out, and it is the only
// writer of the completion ledger and the result records.
package harvest
