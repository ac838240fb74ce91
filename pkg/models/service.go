package models

// ServiceName is one of the restartable services on the device.
type ServiceName string

const (
	ServiceSSH     ServiceName = "ssh"
	ServiceTunnel  ServiceName = "tunnel"
	ServiceMonitor ServiceName = "monitor"
)

var restartCommands = map[ServiceName]string{
	ServiceSSH:     "pkill sshd; sleep 2; sshd",
	ServiceTunnel:  "pkill cloudflared; sleep 2; nohup cloudflared tunnel run termux-ssh > ~/tunnel-manual.log 2>&1 &",
	ServiceMonitor: "pkill -f smart-tunnel; sleep 2; nohup bash ~/smart-tunnel.sh &",
}

// ParseServiceName validates s against the closed service set.
func ParseServiceName(s string) (ServiceName, bool) {
	name := ServiceName(s)
	_, ok := restartCommands[name]
	return name, ok
}

// RestartCommand returns the fixed remote command that restarts the service.
func (n ServiceName) RestartCommand() string {
	return restartCommands[n]
}
