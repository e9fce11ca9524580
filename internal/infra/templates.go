package infra

// Terraform definition for a single GCP compute instance with per-port
// firewall rules. Env vars ride as instance metadata.
const gcpTemplate = `variable "ssh_public_key" {
  type    = string
  default = "{{.SSHPublicKey}}"
}

provider "google" {
  project = "{{.ProjectID}}"
  region  = "{{.Region}}"
}

resource "google_compute_instance" "app" {
  name                      = "shipit-app"
  machine_type              = "{{.MachineType}}"
  zone                      = "{{.Zone}}"
  allow_stopping_for_update = true

  boot_disk {
    initialize_params {
      image = "ubuntu-os-cloud/ubuntu-2204-lts"
    }
  }

  network_interface {
    network = "default"
    access_config {}
  }

  metadata = {
    ssh-keys = "{{.SSHUser}}:${var.ssh_public_key}"
{{- range .Metadata}}
    app-env-{{.Key}} = "{{.Value}}"
{{- end}}
  }
}
{{range .Ports}}
resource "google_compute_firewall" "allow_app_port_{{.}}" {
  name    = "allow-app-port-{{.}}"
  network = "default"

  allow {
    protocol = "tcp"
    ports    = ["{{.}}"]
  }

  source_ranges = ["{{$.SourceRange}}"]
  target_tags   = []
}
{{end}}
output "host_address" {
  value = google_compute_instance.app.network_interface[0].access_config[0].nat_ip
}
`

// Terraform definition for a single AWS EC2 instance with a security group
// opening the app ports.
const awsTemplate = `variable "ssh_public_key" {
  type    = string
  default = "{{.SSHPublicKey}}"
}

provider "aws" {
  region = "{{.Region}}"
}

data "aws_ami" "ubuntu" {
  most_recent = true
  owners      = ["099720109477"]

  filter {
    name   = "name"
    values = ["ubuntu/images/hvm-ssd/ubuntu-jammy-22.04-amd64-server-*"]
  }
}

resource "aws_key_pair" "app" {
  key_name   = "shipit-app"
  public_key = var.ssh_public_key
}

resource "aws_security_group" "app" {
  name = "shipit-app"

  ingress {
    from_port   = 22
    to_port     = 22
    protocol    = "tcp"
    cidr_blocks = ["{{.SourceRange}}"]
  }
{{range .Ports}}
  ingress {
    from_port   = {{.}}
    to_port     = {{.}}
    protocol    = "tcp"
    cidr_blocks = ["{{$.SourceRange}}"]
  }
{{end}}
  egress {
    from_port   = 0
    to_port     = 0
    protocol    = "-1"
    cidr_blocks = ["0.0.0.0/0"]
  }
}

resource "aws_instance" "app" {
  ami                    = data.aws_ami.ubuntu.id
  instance_type          = "{{.MachineType}}"
  key_name               = aws_key_pair.app.key_name
  vpc_security_group_ids = [aws_security_group.app.id]

  tags = {
    Name = "shipit-app"
  }
}

output "host_address" {
  value = aws_instance.app.public_ip
}
`

// Bootstrap script executed on the provisioned host. Expects the application
// archive at /tmp/app.tar.gz; builds and starts the app under systemd.
const bootstrapTemplate = `#!/bin/bash
set -euxo pipefail

sudo apt-get clean && sudo rm -rf /var/lib/apt/lists/* && sudo apt-get update -y
sudo apt-get install -y git curl python3-pip tar

sudo rm -rf /opt/app
sudo mkdir -p /opt/app
sudo tar -xzf /tmp/app.tar.gz -C /opt/app
sudo chown -R {{.SSHUser}}:{{.SSHUser}} /opt/app

cd /opt/app
{{range .Metadata}}
export {{.Key}}="{{.Value}}"
{{- end}}
{{if .BuildCommand}}
{{.BuildCommand}}
{{end}}
sudo tee /etc/systemd/system/shipit-app.service > /dev/null <<'UNIT'
[Unit]
Description=shipit deployed application
After=network.target

[Service]
User={{.SSHUser}}
WorkingDirectory=/opt/app
{{- range .Metadata}}
Environment="{{.Key}}={{.Value}}"
{{- end}}
ExecStart=/bin/bash -lc '{{.StartCommand}}'
Restart=on-failure

[Install]
WantedBy=multi-user.target
UNIT

sudo systemctl daemon-reload
sudo systemctl enable shipit-app
sudo systemctl restart shipit-app
sudo systemctl --no-pager status shipit-app
`
