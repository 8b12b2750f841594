package clientchannel

// This file documents the config-selector application points; the actual
// call sites live in call.go (SelectConfig, deadline/wait-for-ready
// derivation — spec.md §4.7) and lb_call.go (call-attribute propagation
// into the pick, commit-hook firing on recv_initial_metadata — spec.md
// §4.7 "Config-selector commit"). serviceconfig.ConfigSelector and
// serviceconfig.DefaultConfigSelector (grounded on config_selector.h's
// ConfigSelector/DefaultConfigSelector) are the types those call sites
// consume; this package adds no concrete ConfigSelector of its own since
// resolvers (e.g. xds/resolver's configSelector) are where routing
// decisions actually live.
