// Package sequence holds the library of named motion sequences.
//
// A catalog file is parsed and validated against the channel profile as a
// whole; a single bad entry rejects the file. The validated Library is
// immutable and served through a Catalog, which a Watcher can swap when
// the file changes on disk.
//
// Catalog format:
//
//	sequences:
//	  - id: GREETING
//	    name: Greeting
//	    priority: 5
//	    steps:
//	      - at: 0s
//	        duration: 600ms
//	        targets: {DOME: 120, HEAD: 20}
//	        trigger: {kind: audio, name: hello.wav}
//	      - at: 1s
//	        duration: 600ms
//	        targets: {DOME: 90, HEAD: 0}
//
// Durations must be written as Go duration strings.
package sequence
