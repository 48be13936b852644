// Package registry holds the authoritative record of which object
// instances are enabled on the device.
//
// All mutations go through the consistency engine before they are applied.
// The registry itself never rejects a mutation; it records the engine's
// decision and hands it to observers together with the new snapshot:
//
//	reg := registry.New(consistency.NewEngine(nil))
//	reg.Subscribe(observer)
//
//	reg.Add(dm.NewRef(dm.ObjectDevice, 0))
//	reg.RemoveObject(dm.ObjectLocation)
//
// Observers are called outside the registry lock, in mutation order.
// A mutation that does not change the set (removing an absent instance,
// adding a present one) notifies nobody.
package registry
