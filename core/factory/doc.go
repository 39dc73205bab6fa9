// Package factory provides a small generic registry used to instantiate modules
// from configuration. Modules are defined by a type string and a map of raw
// settings. Factories decode the settings into typed structs and return the
// concrete implementation.
//
// Authorization backends and metrics sinks are both built this way:
//
//	reg := factory.NewRegistry[authz.Backend]()
//	reg.Register("local", func(conf map[string]any) (authz.Backend, error) {
//	    var c local.Config
//	    if err := factory.Decode(conf, &c); err != nil {
//	        return nil, err
//	    }
//	    return local.New(c), nil
//	})
//	b, err := reg.Create(factory.ModuleConfig{Type: "local", Conf: map[string]any{"id": "local"}})
package factory
