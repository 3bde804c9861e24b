// Package config loads and validates YAML deployment configurations
// and compiles them into runnable pipelines.
//
// A deployment file names one or more pipelines. Each pipeline lists
// its operator nodes and the links wiring them together and to the
// pipeline boundary:
//
//	version: "1"
//	pipelines:
//	  - id: enrich
//	    tick_interval: 1s
//	    nodes:
//	      - id: classify
//	        type: script
//	        config:
//	          script: |
//	            match event of
//	            case %{level == "error"} => let event.alert = true
//	            default => emit
//	            end;
//	            event
//	    links:
//	      - from: in
//	        to: classify/in
//	      - from: classify/out
//	        to: out
//	      - from: classify/err
//	        to: out/err
//
// Link addresses are "instance/port" pairs; the reserved instances
// "in" and "out" denote the pipeline's own inputs and outputs. Raw
// documents are checked against a JSON schema before decoding, so
// structural mistakes are reported with field paths instead of
// surfacing as zero values at runtime. Scripts compile during Build:
// a deployment with a bad script never starts.
package config
