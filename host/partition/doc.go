// Package partition discovers the volumes of a logical unit.
//
// [Scan] reads LBA 0 through a [BlockReader] and classifies it with
// [ClassifyVBR]. A FAT, exFAT or NTFS boot record there is a superfloppy
// volume. A signed block that is not a boot record is parsed as a Master Boot
// Record whose entries lead to boot records, Extended Boot Record chains and
// GUID Partition Tables.
//
// Everything on the medium is untrusted. A truncated, out-of-range or
// checksum-mismatched structure is never an error: it is skipped and parsing
// moves to the next candidate. EBR chains are bounded by
// [Options.MaxEBRChain] and cycle-checked, and at most [MaxGPTEntries] GPT
// entries are read whatever the header claims.
package partition
