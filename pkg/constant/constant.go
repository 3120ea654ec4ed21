package constant

import "time"

const (
	// DefaultDirMode is the default file mode to apply to created directories.
	DefaultDirMode = 0o755
	// DefaultFileMode is the default file mode to apply to created files.
	DefaultFileMode = 0o600
	// DefaultWorldReadableFileMode is the default file mode to apply to files
	// that can be read by other processes.
	DefaultWorldReadableFileMode = 0o644
	// DefaultLaunchdJobMode is the required file mode for launchd plists.
	DefaultLaunchdJobMode = DefaultWorldReadableFileMode

	// AppExecName is the name of the Privileges executable.
	//
	// We use Privileges as name to properly identify the process when listing
	// running processes/tasks.
	AppExecName = "Privileges"
	// AppBundlePath is where the Privileges app bundle is installed.
	AppBundlePath = "/Applications/Privileges.app"
	// PrivilegesCLIPath is the command line interface shipped inside the app
	// bundle. It is the only supported way to toggle the privilege tier.
	PrivilegesCLIPath = "/Applications/Privileges.app/Contents/Resources/PrivilegesCLI"
	// AdminGroup is the local directory group that defines the admin tier.
	AdminGroup = "admin"

	// WatchdogPidfile is the file containing the PID of the running privwatch
	// process for the session.
	WatchdogPidfile = "privwatch.pid"
	// WatchdogExecName is the name privwatch runs under, used to verify pidfile
	// ownership across restarts.
	WatchdogExecName = "privwatch"
	// DatabaseDirName is the directory (under the root dir) holding the local
	// badger database.
	DatabaseDirName = "privwatch.db"
	// ProvisionMarkerFileName marks a completed provisioning run so repeated
	// MDM check-ins are no-ops.
	ProvisionMarkerFileName = ".provisioned"

	// DefaultRootDir is the default root directory for privwatch state.
	DefaultRootDir = "/Library/Application Support/privwatch"
	// DefaultTimeout is the recommended admin countdown duration.
	DefaultTimeout = 7200 * time.Second
	// MinTimeout is the floor for the admin countdown duration. Configured
	// values below it are clamped, not rejected.
	MinTimeout = 60 * time.Second
	// DefaultCheckInterval is how often the session monitor ticks. It must stay
	// at or below the smallest meaningful countdown granularity.
	DefaultCheckInterval = 30 * time.Second
	// DefaultCommandTimeout bounds each external command (dseditgroup,
	// PrivilegesCLI) so a hung tool cannot stall the tick loop.
	DefaultCommandTimeout = 10 * time.Second

	// MinConsoleUID is the lowest uid treated as a real console user. Below
	// it we are looking at loginwindow or another system account and the
	// monitor must not act.
	MinConsoleUID = 500

	// HelperLaunchDaemonLabel is the label of the privileged helper job the
	// Privileges app registers.
	HelperLaunchDaemonLabel = "corp.sap.privileges.helper"
	// HelperLaunchDaemonPath is where the helper LaunchDaemon plist is written.
	HelperLaunchDaemonPath = "/Library/LaunchDaemons/corp.sap.privileges.helper.plist"
	// WatchdogLaunchAgentLabel is the label of the per-session job that runs
	// the session monitor.
	WatchdogLaunchAgentLabel = "com.github.privwatch.checker"
	// WatchdogLaunchAgentPath is where the monitor LaunchAgent plist is written.
	WatchdogLaunchAgentPath = "/Library/LaunchAgents/com.github.privwatch.checker.plist"

	// DockutilPath is the dockutil binary used to add the app to the Dock.
	DockutilPath = "/usr/local/bin/dockutil"
)
