// Package relay provides the controller that runs an N-proxy-M relay.
//
// The mode is fixed when the Controller is built. In proxy mode every inbound
// message is forwarded to the outbound channel verbatim. In function mode the
// inbound channel feeds a facssmooth.Transformer and the command channel feeds
// a paramrouter.Router; both loops run side by side and share only the
// multiplier cell.
//
//	ctrl, err := relay.New(cfg, relay.Channels{
//		Inbound:  inbound,
//		Outbound: outbound,
//		Commands: commands,
//	}, deps)
//	if err != nil {
//		return err // missing channels are fatal
//	}
//	return ctrl.Run(ctx)
package relay
