// Package config loads the client configuration from YAML.
//
// A minimal file names the endpoint and one server:
//
//	endpoint: urn:dev:os:0023C7-000001
//	servers:
//	  - name: primary
//	    address: 127.0.0.1:5683
//
// Everything else has defaults; see Default.
package config
