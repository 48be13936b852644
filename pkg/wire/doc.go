// Package wire defines the LwM2M registration interface messages.
//
// The registration interface has three operations, all initiated by the
// client and carried as Confirmable CoAP requests:
//
//   - Register:   POST /rd?lwm2m=1.0&ep=<name>&lt=<lifetime>  (2.01 Created)
//   - Update:     POST <location>                            (2.04 Changed)
//   - Deregister: DELETE <location>                          (2.02 Deleted)
//
// Register and Update carry the canonical instance listing as an
// application/link-format payload:
//
//	</0/0>,</1/0>,</3/0>
//
// The location is assigned by the server in the Location-Path options of
// the 2.01 Created response.
//
// Builders in this package return messages without token or message id;
// those are assigned by the exchange driver.
package wire
